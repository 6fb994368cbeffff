package analysis

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/h2non/filetype"
)

// Risk levels reported by Inspect.
const (
	RiskSafe   = "SAFE"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"
)

// HeaderSize is how much of a file Inspect looks at; filetype needs no more.
const HeaderSize = 262

// Result describes one inspected file.
type Result struct {
	IsMasquerade bool   // content does not match the extension
	RealExt      string // extension derived from the magic bytes
	DeclaredExt  string // extension from the file name
	RiskLevel    string
	Message      string
}

// TypeInspector flags files whose content type disagrees with their name.
type TypeInspector struct {
	aliasMap map[string]map[string]bool
	mu       sync.RWMutex
}

func NewTypeInspector() *TypeInspector {
	inspector := &TypeInspector{
		aliasMap: make(map[string]map[string]bool),
	}
	inspector.initRules()
	return inspector
}

// Allow records that files detected as realType may legitimately be named
// with any of exts.
func (t *TypeInspector) Allow(realType string, exts ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.aliasMap[realType]; !ok {
		t.aliasMap[realType] = map[string]bool{realType: true}
	}
	for _, ext := range exts {
		t.aliasMap[realType][ext] = true
	}
}

func (t *TypeInspector) initRules() {
	// Office documents, Java and Android archives are all zip containers.
	t.Allow("zip",
		"docx", "docm", "dotx", "dotm",
		"xlsx", "xlsm", "xltx", "xltm",
		"pptx", "pptm", "potx", "potm",
		"jar", "war", "ear", "apk",
		"odt", "ods", "odp",
		"crx", "whl", "nupkg",
	)
	t.Allow("xml", "svg", "html", "htm", "kml", "dae", "plist", "config")
	t.Allow("mp4", "m4v", "mov", "qt")
	t.Allow("mov", "qt", "mp4")
	t.Allow("ogg", "ogv", "oga", "spx")
	t.Allow("exe", "dll", "sys", "scr", "cpl", "ocx")
	t.Allow("gz", "gzip", "tgz")
}

// Inspect checks the first HeaderSize bytes of r against the extension of
// name. r is typically an event descriptor, so the bytes come from exactly
// the file the event reported.
func (t *TypeInspector) Inspect(name string, r io.ReaderAt) (*Result, error) {
	rawExt := filepath.Ext(name)
	if rawExt == "" {
		return &Result{RiskLevel: RiskSafe, Message: "No extension"}, nil
	}
	declaredExt := strings.ToLower(strings.TrimPrefix(rawExt, "."))

	head := make([]byte, HeaderSize)
	n, err := r.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header of %s: %w", name, err)
	}
	if n == 0 {
		return &Result{DeclaredExt: declaredExt, RiskLevel: RiskSafe, Message: "Empty file"}, nil
	}

	kind, _ := filetype.Match(head[:n])
	if kind == filetype.Unknown {
		// Text formats have no signature.
		return &Result{
			RealExt:     "unknown",
			DeclaredExt: declaredExt,
			RiskLevel:   RiskSafe,
			Message:     "Unknown binary signature (likely text)",
		}, nil
	}

	realExt := kind.Extension
	if realExt == declaredExt {
		return &Result{RealExt: realExt, DeclaredExt: declaredExt, RiskLevel: RiskSafe}, nil
	}

	t.mu.RLock()
	allowed := t.aliasMap[realExt][declaredExt]
	t.mu.RUnlock()
	if allowed {
		return &Result{
			RealExt:     realExt,
			DeclaredExt: declaredExt,
			RiskLevel:   RiskSafe,
			Message:     fmt.Sprintf("Allowed alias: %s is compatible with %s", declaredExt, realExt),
		}, nil
	}

	risk := RiskMedium
	if realExt == "exe" || realExt == "elf" || realExt == "dll" {
		risk = RiskHigh
	}
	return &Result{
		IsMasquerade: true,
		RealExt:      realExt,
		DeclaredExt:  declaredExt,
		RiskLevel:    risk,
		Message:      fmt.Sprintf("Type mismatch: header is '%s' but name says '%s'", realExt, declaredExt),
	}, nil
}
