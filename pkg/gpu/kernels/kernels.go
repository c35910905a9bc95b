// Package kernels embeds the compiled cosine similarity kernel artifacts and
// provides just enough parsing to validate them before a driver loads one.
//
// Artifacts:
//   - cosine_similarity.ptx: PTX for the CUDA driver (and the emulator),
//     generated from cosine_similarity.cu
//   - cosine_similarity.cl: OpenCL C source, compiled by the OpenCL driver
//     at load time
//
// Both expose exactly one entry point, Entry, with the parameter order
// (ptrA, ptrB, ptrDot, ptrMagA, ptrMagB, n int32).
package kernels

import (
	"bufio"
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Entry is the name of the reduction kernel in every artifact.
const Entry = "cosine_similarity"

// BlockLimit is the size of the kernel's shared reduction arrays. A launch
// with a wider block would write past them.
const BlockLimit = 256

//go:embed cosine_similarity.ptx
var ptx []byte

//go:embed cosine_similarity.cl
var openCL []byte

// Errors
var (
	ErrMalformed = errors.New("kernels: malformed kernel artifact")
	ErrNoEntry   = errors.New("kernels: entry point not found")
	ErrSignature = errors.New("kernels: entry point signature mismatch")
)

// PTX returns a copy of the embedded PTX artifact.
func PTX() []byte {
	return bytes.Clone(ptx)
}

// OpenCL returns a copy of the embedded OpenCL C artifact.
func OpenCL() []byte {
	return bytes.Clone(openCL)
}

// EntryPoint is one kernel entry point found in an artifact.
type EntryPoint struct {
	Name   string
	Params []string // parameter types in declaration order
}

// Module is the parsed header and entry table of an artifact.
type Module struct {
	Version string
	Target  string
	Entries []EntryPoint
}

// Lookup returns the named entry point.
func (m *Module) Lookup(name string) (EntryPoint, error) {
	for _, e := range m.Entries {
		if e.Name == name {
			return e, nil
		}
	}
	return EntryPoint{}, fmt.Errorf("%w: %q", ErrNoEntry, name)
}

// reductionParams is the PTX signature of the reduction kernel.
var reductionParams = []string{"u64", "u64", "u64", "u64", "u64", "u32"}

// CheckReduction verifies that e has the reduction kernel's parameter list.
func CheckReduction(e EntryPoint) error {
	if len(e.Params) != len(reductionParams) {
		return fmt.Errorf("%w: %s has %d params, want %d",
			ErrSignature, e.Name, len(e.Params), len(reductionParams))
	}
	for i, p := range e.Params {
		if p != reductionParams[i] && !(i == 5 && p == "s32") {
			return fmt.Errorf("%w: %s param %d is .%s", ErrSignature, e.Name, i, p)
		}
	}
	return nil
}

var (
	ptxEntryRe = regexp.MustCompile(`^\s*(?:\.visible\s+|\.weak\s+)?\.entry\s+([A-Za-z_$][\w$]*)\s*\(`)
	ptxParamRe = regexp.MustCompile(`^\s*\.param\s+\.(\w+)\s+[\w$]+`)
)

// ParsePTX reads the header directives and entry table of a PTX module.
// Instruction bodies are not validated.
func ParsePTX(src []byte) (*Module, error) {
	if len(bytes.TrimSpace(src)) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}

	m := &Module{}
	var cur *EntryPoint

	sc := bufio.NewScanner(bytes.NewReader(src))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.Index(line, "//"); i >= 0 {
			line = line[:i]
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if cur != nil {
			if match := ptxParamRe.FindStringSubmatch(trimmed); match != nil {
				cur.Params = append(cur.Params, match[1])
			}
			if strings.HasPrefix(trimmed, ")") || strings.HasSuffix(trimmed, ")") {
				m.Entries = append(m.Entries, *cur)
				cur = nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, ".version"):
			m.Version = strings.TrimSpace(strings.TrimPrefix(trimmed, ".version"))
		case strings.HasPrefix(trimmed, ".target"):
			m.Target = strings.TrimSpace(strings.TrimPrefix(trimmed, ".target"))
		default:
			if match := ptxEntryRe.FindStringSubmatch(trimmed); match != nil {
				cur = &EntryPoint{Name: match[1]}
				// Parameter list closed on the same line: ".entry k()".
				if strings.HasSuffix(trimmed, ")") {
					m.Entries = append(m.Entries, *cur)
					cur = nil
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch {
	case cur != nil:
		return nil, fmt.Errorf("%w: unterminated parameter list for %s", ErrMalformed, cur.Name)
	case m.Version == "":
		return nil, fmt.Errorf("%w: missing .version directive", ErrMalformed)
	case m.Target == "":
		return nil, fmt.Errorf("%w: missing .target directive", ErrMalformed)
	}
	return m, nil
}

var clKernelRe = regexp.MustCompile(`(?s)__kernel\s+void\s+([A-Za-z_]\w*)\s*\(([^)]*)\)`)

// ParseOpenCL lists the __kernel functions in an OpenCL C source.
// Parameter types are reported as written, without qualifiers.
func ParseOpenCL(src []byte) (*Module, error) {
	if len(bytes.TrimSpace(src)) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}

	m := &Module{Version: "OpenCL C 1.2"}
	for _, match := range clKernelRe.FindAllSubmatch(src, -1) {
		e := EntryPoint{Name: string(match[1])}
		for _, p := range strings.Split(string(match[2]), ",") {
			if p = strings.TrimSpace(p); p != "" {
				e.Params = append(e.Params, p)
			}
		}
		m.Entries = append(m.Entries, e)
	}
	if len(m.Entries) == 0 {
		return nil, fmt.Errorf("%w: no __kernel functions", ErrMalformed)
	}
	return m, nil
}
