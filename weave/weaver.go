package weave

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// This file implements §4.D, the bytecode weaver. It finds private (and
// static-final) fields an annotation front end marked with an inject-style
// annotation and generates a synthetic setter the container's compiled
// factory code can call instead of going through reflection — grounded on
// the whole-program, no-runtime-reflection guarantee stated throughout
// spec.md's §1/§4.D, expressed here as straight encoding/binary class-file
// surgery since nothing in the retrieval pack handles JVM bytecode.

// WeaveResult reports what WeaveClass did to one class file.
type WeaveResult int

const (
	// Unchanged means the class had no fields needing a synthetic setter.
	Unchanged WeaveResult = iota
	// Modified means at least one setter was generated.
	Modified
)

func (r WeaveResult) String() string {
	if r == Modified {
		return "modified"
	}
	return "unchanged"
}

// opcodes used by the generated setter bodies (JVM spec chapter 6).
const (
	opAload0    = 0x2a
	opAload1    = 0x2b
	opIload1    = 0x1b
	opLload1    = 0x1f
	opFload1    = 0x23
	opDload1    = 0x27
	opPutfield  = 0xb5
	opPutstatic = 0xb3
	opReturn    = 0xb1
)

// category2 reports whether descriptor d (a single field descriptor) is a
// JVM "category 2" type (long or double), which occupies two local-variable
// slots and two stack words (JVM spec §2.6.1).
func category2(d string) bool { return d == "J" || d == "D" }

// loadOpcodeFor returns the opcode that loads local variable slot 1
// (instance setters) for field descriptor d.
func loadOpcodeFor(d string) byte {
	switch {
	case d == "J":
		return opLload1
	case d == "D":
		return opDload1
	case d == "F":
		return opFload1
	case strings.HasPrefix(d, "L") || strings.HasPrefix(d, "["):
		return opAload1
	default: // I, S, B, C, Z
		return opIload1
	}
}

// WeaveClass inspects one compiled class file's fields for an inject-style
// annotation and, for each one found that is not public or is final (public,
// non-final fields need no setter), strips ACC_FINAL (if set) and appends
// a synthetic public setter method named __di_set_<field> that performs the
// single putfield/putstatic the container's factory code invokes post-
// construction (§4.D, §8 scenarios S1/S2). It returns the (possibly
// unmodified) class bytes and whether anything changed.
func WeaveClass(data []byte) (WeaveResult, []byte, error) {
	cf, err := ParseClass(data)
	if err != nil {
		return Unchanged, nil, err
	}

	existing := make(map[string]bool, len(cf.Methods))
	for _, m := range cf.Methods {
		existing[cf.utf8(m.NameIndex)] = true
	}

	result := Unchanged
	newFields := make([]FieldInfo, len(cf.Fields))
	var newMethods []MethodInfo

	for i, f := range cf.Fields {
		newFields[i] = f
		if !cf.HasInjectAnnotation(f) {
			continue
		}
		if f.AccessFlags&AccPublic != 0 && f.AccessFlags&AccFinal == 0 {
			continue
		}
		fieldName := cf.FieldName(f)
		setterName := "__di_set_" + fieldName
		if existing[setterName] {
			continue // already woven
		}

		newFields[i].AccessFlags &^= AccFinal

		method, err := cf.buildSetter(newFields[i], setterName)
		if err != nil {
			return Unchanged, nil, fmt.Errorf("weave: field %s: %w", fieldName, err)
		}
		newMethods = append(newMethods, method)
		existing[setterName] = true
		result = Modified
	}

	if result == Unchanged {
		return Unchanged, data, nil
	}

	cf.Fields = newFields
	cf.Methods = append(cf.Methods, newMethods...)

	out, err := cf.Write()
	if err != nil {
		return Unchanged, nil, err
	}
	return Modified, out, nil
}

// buildSetter synthesizes a MethodInfo implementing a single-field setter
// for f, using (or becoming the first user of) a Fieldref pointing back at
// this class.
func (cf *ClassFile) buildSetter(f FieldInfo, name string) (MethodInfo, error) {
	fieldDesc := cf.FieldDescriptor(f)
	isStatic := f.AccessFlags&AccStatic != 0

	nameIdx := cf.addUtf8(name)
	methodDescIdx := cf.addUtf8("(" + fieldDesc + ")V")

	fieldNATIdx := cf.addNameAndType(f.NameIndex, f.DescriptorIndex)
	fieldrefIdx := cf.addFieldref(cf.ThisClass, fieldNATIdx)

	code, maxStack, maxLocals := buildSetterCode(fieldDesc, fieldrefIdx, isStatic)

	codeAttr, err := cf.buildCodeAttribute(code, maxStack, maxLocals)
	if err != nil {
		return MethodInfo{}, err
	}

	access := uint16(AccPublic | AccSynthetic)
	if isStatic {
		access |= AccStatic
	}

	return MethodInfo{
		AccessFlags:     access,
		NameIndex:       nameIdx,
		DescriptorIndex: methodDescIdx,
		Attributes:      []AttributeInfo{codeAttr},
	}, nil
}

// buildSetterCode emits the bytecode body: load this (if instance) and the
// parameter, store into the field, return.
func buildSetterCode(fieldDesc string, fieldrefIdx uint16, isStatic bool) (code []byte, maxStack, maxLocals uint16) {
	var buf []byte
	paramSlot := 0
	if !isStatic {
		buf = append(buf, opAload0)
		paramSlot = 1
	}
	buf = append(buf, loadOpcodeFor(fieldDesc))

	fieldOp := byte(opPutfield)
	if isStatic {
		fieldOp = opPutstatic
	}
	buf = append(buf, fieldOp, byte(fieldrefIdx>>8), byte(fieldrefIdx))
	buf = append(buf, opReturn)

	stack := uint16(1)
	if category2(fieldDesc) {
		stack = 2
	}
	if !isStatic {
		stack++ // "this" reference also occupies a stack slot briefly
	}

	locals := uint16(paramSlot + 1)
	if category2(fieldDesc) {
		locals++
	}

	return buf, stack, locals
}

// buildCodeAttribute wraps a raw instruction stream in a minimal Code
// attribute (JVM spec §4.7.3): no exception table, no sub-attributes.
func (cf *ClassFile) buildCodeAttribute(code []byte, maxStack, maxLocals uint16) (AttributeInfo, error) {
	body := make([]byte, 0, 12+len(code))
	body = append(body, byte(maxStack>>8), byte(maxStack))
	body = append(body, byte(maxLocals>>8), byte(maxLocals))

	length := uint32(len(code))
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, length)
	body = append(body, lenBuf...)
	body = append(body, code...)
	body = append(body, 0x00, 0x00) // exception_table_length = 0
	body = append(body, 0x00, 0x00) // attributes_count = 0

	return AttributeInfo{NameIndex: cf.addUtf8("Code"), Name: "Code", Info: body}, nil
}

// FileResult is one file's outcome from WeaveDirectory.
type FileResult struct {
	Path   string
	Result WeaveResult
	Err    error
}

// Summary aggregates a WeaveDirectory run.
type Summary struct {
	Scanned  int
	Modified int
	Failed   int
	Files    []FileResult
}

// WeaveDirectory walks root for *.class files and weaves each one
// concurrently (one goroutine per file via golang.org/x/sync/errgroup, from
// the same golang.org/x/sync module whose singleflight backs the
// container's singleton scope), rewriting modified files in
// place. It never aborts early on a single file's failure — every file is
// attempted and failures are reported in the returned Summary.
func WeaveDirectory(ctx context.Context, root string) (Summary, error) {
	if _, statErr := os.Stat(root); statErr != nil {
		if os.IsNotExist(statErr) {
			return Summary{}, nil
		}
		return Summary{}, fmt.Errorf("weave: stat %s: %w", root, statErr)
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".class") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("weave: walking %s: %w", root, err)
	}

	results := make([]FileResult, len(paths))
	var scanned, modified, failed int64

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			atomic.AddInt64(&scanned, 1)
			data, err := os.ReadFile(p)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				mu.Lock()
				results[i] = FileResult{Path: p, Err: err}
				mu.Unlock()
				return nil // a single unreadable file does not abort the sweep
			}

			res, out, err := WeaveClass(data)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				mu.Lock()
				results[i] = FileResult{Path: p, Err: err}
				mu.Unlock()
				return nil
			}

			if res == Modified {
				if err := os.WriteFile(p, out, 0o644); err != nil {
					atomic.AddInt64(&failed, 1)
					mu.Lock()
					results[i] = FileResult{Path: p, Err: err}
					mu.Unlock()
					return nil
				}
				atomic.AddInt64(&modified, 1)
			}

			mu.Lock()
			results[i] = FileResult{Path: p, Result: res}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	return Summary{
		Scanned:  int(scanned),
		Modified: int(modified),
		Failed:   int(failed),
		Files:    results,
	}, nil
}
