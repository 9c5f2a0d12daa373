// Package ext loads an optional, best-effort user extension shared
// library (named by the driver's --extlib flag) and dispatches retirement
// events to whichever of its hooks actually resolved. Extensions never
// gate the built-in engines: they run last, after BBT, PC-freqvec, the
// debug tracer and the reconvergence predictor have all processed the
// same event.
package ext

import (
	"fmt"
	"os"
	"strings"

	"github.com/ebitengine/purego"
	"gopkg.in/yaml.v3"
)

// Extension wraps whichever hooks resolved from the loaded library. A nil
// func field means that hook was absent and must not be called.
type Extension struct {
	lib uintptr

	onRetire   func(pc, bits uint64)
	onBranch   func(pc, npc uint64, taken int32)
	onShutdown func()
}

// manifest is the optional "<path-without-ext>.yaml" sidecar.
type manifest struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Loader opens extension shared objects and resolves their hook tables.
type Loader struct{}

// NewLoader returns a Loader. There is no state to construct; the type
// exists so extension loading has the same shape as the rest of the
// driver's component wiring.
func NewLoader() *Loader { return &Loader{} }

// Load opens path with dlopen and resolves the fixed extension symbol
// table. wantName, if non-empty, must match the optional manifest's
// name: field when a manifest is present. Resolving zero of the three
// hooks is a fatal configuration error; resolving some but not all is
// fine — unresolved hooks are simply never invoked.
func (l *Loader) Load(path string, wantName string) (*Extension, error) {
	if path == "" {
		if wantName != "" {
			return nil, fmt.Errorf("ext: --extension=%q given without --extlib: nothing to bind the name to", wantName)
		}
		return nil, nil
	}

	if err := checkManifest(path, wantName); err != nil {
		return nil, err
	}

	lib, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("ext: dlopen %s: %w", path, err)
	}

	e := &Extension{lib: lib}
	resolved := 0

	if sym, err := purego.Dlsym(lib, "cc_ext_on_retire"); err == nil {
		purego.RegisterFunc(&e.onRetire, sym)
		resolved++
	}
	if sym, err := purego.Dlsym(lib, "cc_ext_on_branch"); err == nil {
		purego.RegisterFunc(&e.onBranch, sym)
		resolved++
	}
	if sym, err := purego.Dlsym(lib, "cc_ext_on_shutdown"); err == nil {
		purego.RegisterFunc(&e.onShutdown, sym)
		resolved++
	}

	if resolved == 0 {
		return nil, fmt.Errorf("ext: %s exposes none of cc_ext_on_retire/cc_ext_on_branch/cc_ext_on_shutdown", path)
	}
	return e, nil
}

func checkManifest(libPath, wantName string) error {
	manifestPath := stripExt(libPath) + ".yaml"
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("ext: reading manifest %s: %w", manifestPath, err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("ext: parsing manifest %s: %w", manifestPath, err)
	}
	if wantName != "" && m.Name != "" && m.Name != wantName {
		return fmt.Errorf("ext: manifest %s declares name %q, --extension said %q", manifestPath, m.Name, wantName)
	}
	return nil
}

func stripExt(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[:i]
	}
	return path
}

// OnRetire forwards a retired instruction's pc/bits, if the extension
// resolved the hook.
func (e *Extension) OnRetire(pc, bits uint64) {
	if e == nil || e.onRetire == nil {
		return
	}
	e.onRetire(pc, bits)
}

// OnBranch forwards a retired branch outcome, if resolved.
func (e *Extension) OnBranch(pc, npc uint64, taken bool) {
	if e == nil || e.onBranch == nil {
		return
	}
	var t int32
	if taken {
		t = 1
	}
	e.onBranch(pc, npc, t)
}

// Shutdown invokes cc_ext_on_shutdown if resolved. Errors here (panics
// recovered from a misbehaving extension) are reported but never change
// the caller's own shutdown outcome.
func (e *Extension) Shutdown() (err error) {
	if e == nil || e.onShutdown == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ext: panic in cc_ext_on_shutdown: %v", r)
		}
	}()
	e.onShutdown()
	return nil
}
