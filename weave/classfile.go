package weave

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Constant pool tags (JVM spec §4.4).
const (
	tagUtf8              = 1
	tagInteger           = 3
	tagFloat             = 4
	tagLong              = 5
	tagDouble            = 6
	tagClass             = 7
	tagString            = 8
	tagFieldref          = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType       = 12
	tagMethodHandle      = 15
	tagMethodType        = 16
	tagDynamic           = 17
	tagInvokeDynamic     = 18
	tagModule            = 19
	tagPackage           = 20
)

// Access flags relevant to weaving (JVM spec §4.5, §4.6).
const (
	AccPublic = 0x0001
	AccPrivate = 0x0002
	AccFinal   = 0x0010
	AccStatic  = 0x0008
	AccSynthetic = 0x1000
)

// cpEntry is one constant pool slot. Only the tag and the bytes the weaver
// needs to inspect or re-emit are decoded; everything else round-trips as
// raw bytes so a class file can be rewritten without understanding every
// constant kind the JVM defines.
type cpEntry struct {
	tag  byte
	raw  []byte // exact bytes following the tag, as they appear on the wire
}

// wide reports whether this entry occupies two constant pool slots (Long,
// Double — JVM spec §4.4.5).
func (e cpEntry) wide() bool { return e.tag == tagLong || e.tag == tagDouble }

// AttributeInfo is one attribute entry (JVM spec §4.7), kept as a raw byte
// blob keyed by its name (already resolved out of the constant pool) so
// unrecognized attributes pass through unchanged.
type AttributeInfo struct {
	NameIndex uint16
	Name      string
	Info      []byte
}

// FieldInfo / MethodInfo mirror the JVM spec §4.5/§4.6 layouts.
type FieldInfo struct {
	AccessFlags     uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Attributes      []AttributeInfo
}

type MethodInfo struct {
	AccessFlags     uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Attributes      []AttributeInfo
}

// ClassFile is a parsed JVM class file (JVM spec §4.1), sufficient for the
// weaver to inspect fields/annotations and append synthetic setter methods.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16

	pool []cpEntry // index 0 unused, matching the JVM's 1-based constant pool

	AccessFlags uint16
	ThisClass   uint16
	SuperClass  uint16
	Interfaces  []uint16

	Fields  []FieldInfo
	Methods []MethodInfo

	Attributes []AttributeInfo
}

type reader struct {
	b   []byte
	pos int
}

func (r *reader) u1() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, fmt.Errorf("weave: unexpected end of class file")
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u2() (uint16, error) {
	if r.pos+2 > len(r.b) {
		return 0, fmt.Errorf("weave: unexpected end of class file")
	}
	v := binary.BigEndian.Uint16(r.b[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u4() (uint32, error) {
	if r.pos+4 > len(r.b) {
		return 0, fmt.Errorf("weave: unexpected end of class file")
	}
	v := binary.BigEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.b) {
		return nil, fmt.Errorf("weave: unexpected end of class file")
	}
	v := r.b[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

// ParseClass decodes raw bytes into a ClassFile.
func ParseClass(data []byte) (*ClassFile, error) {
	r := &reader{b: data}

	magic, err := r.u4()
	if err != nil {
		return nil, err
	}
	if magic != 0xCAFEBABE {
		return nil, fmt.Errorf("weave: not a class file (bad magic %08x)", magic)
	}

	cf := &ClassFile{}
	if cf.MinorVersion, err = r.u2(); err != nil {
		return nil, err
	}
	if cf.MajorVersion, err = r.u2(); err != nil {
		return nil, err
	}

	poolCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	cf.pool = make([]cpEntry, poolCount)
	for i := 1; i < int(poolCount); i++ {
		entry, err := readCPEntry(r)
		if err != nil {
			return nil, fmt.Errorf("weave: constant pool entry %d: %w", i, err)
		}
		cf.pool[i] = entry
		if entry.wide() {
			i++ // long/double occupy two slots; the second is left zero-valued
		}
	}

	if cf.AccessFlags, err = r.u2(); err != nil {
		return nil, err
	}
	if cf.ThisClass, err = r.u2(); err != nil {
		return nil, err
	}
	if cf.SuperClass, err = r.u2(); err != nil {
		return nil, err
	}

	ifaceCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	cf.Interfaces = make([]uint16, ifaceCount)
	for i := range cf.Interfaces {
		if cf.Interfaces[i], err = r.u2(); err != nil {
			return nil, err
		}
	}

	if cf.Fields, err = readFields(r, cf); err != nil {
		return nil, err
	}
	if cf.Methods, err = readMethods(r, cf); err != nil {
		return nil, err
	}
	if cf.Attributes, err = readAttributes(r, cf); err != nil {
		return nil, err
	}

	if r.pos != len(data) {
		return nil, fmt.Errorf("weave: %d trailing bytes after class file", len(data)-r.pos)
	}
	return cf, nil
}

func readCPEntry(r *reader) (cpEntry, error) {
	tag, err := r.u1()
	if err != nil {
		return cpEntry{}, err
	}
	var n int
	switch tag {
	case tagUtf8:
		length, err := r.u2()
		if err != nil {
			return cpEntry{}, err
		}
		raw, err := r.bytes(int(length))
		if err != nil {
			return cpEntry{}, err
		}
		full := make([]byte, 2+len(raw))
		binary.BigEndian.PutUint16(full, length)
		copy(full[2:], raw)
		return cpEntry{tag: tag, raw: full}, nil
	case tagInteger, tagFloat, tagFieldref, tagMethodref, tagInterfaceMethodref,
		tagNameAndType, tagDynamic, tagInvokeDynamic:
		n = 4
	case tagLong, tagDouble:
		n = 8
	case tagClass, tagString, tagMethodType, tagModule, tagPackage:
		n = 2
	case tagMethodHandle:
		n = 3
	default:
		return cpEntry{}, fmt.Errorf("unsupported constant pool tag %d", tag)
	}
	raw, err := r.bytes(n)
	if err != nil {
		return cpEntry{}, err
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return cpEntry{tag: tag, raw: cp}, nil
}

func readAttributes(r *reader, cf *ClassFile) ([]AttributeInfo, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	out := make([]AttributeInfo, count)
	for i := range out {
		nameIdx, err := r.u2()
		if err != nil {
			return nil, err
		}
		length, err := r.u4()
		if err != nil {
			return nil, err
		}
		info, err := r.bytes(int(length))
		if err != nil {
			return nil, err
		}
		body := make([]byte, len(info))
		copy(body, info)
		out[i] = AttributeInfo{NameIndex: nameIdx, Name: cf.utf8(nameIdx), Info: body}
	}
	return out, nil
}

func readFields(r *reader, cf *ClassFile) ([]FieldInfo, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	out := make([]FieldInfo, count)
	for i := range out {
		f := FieldInfo{}
		if f.AccessFlags, err = r.u2(); err != nil {
			return nil, err
		}
		if f.NameIndex, err = r.u2(); err != nil {
			return nil, err
		}
		if f.DescriptorIndex, err = r.u2(); err != nil {
			return nil, err
		}
		if f.Attributes, err = readAttributes(r, cf); err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func readMethods(r *reader, cf *ClassFile) ([]MethodInfo, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	out := make([]MethodInfo, count)
	for i := range out {
		m := MethodInfo{}
		if m.AccessFlags, err = r.u2(); err != nil {
			return nil, err
		}
		if m.NameIndex, err = r.u2(); err != nil {
			return nil, err
		}
		if m.DescriptorIndex, err = r.u2(); err != nil {
			return nil, err
		}
		if m.Attributes, err = readAttributes(r, cf); err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// utf8 returns the decoded string for a CONSTANT_Utf8_info at index idx, or
// "" if idx is out of range or not a Utf8 entry.
func (cf *ClassFile) utf8(idx uint16) string {
	if int(idx) >= len(cf.pool) {
		return ""
	}
	e := cf.pool[idx]
	if e.tag != tagUtf8 || len(e.raw) < 2 {
		return ""
	}
	return string(e.raw[2:])
}

// classAt resolves a CONSTANT_Class_info index to its binary name.
func (cf *ClassFile) classAt(idx uint16) string {
	if int(idx) >= len(cf.pool) {
		return ""
	}
	e := cf.pool[idx]
	if e.tag != tagClass || len(e.raw) < 2 {
		return ""
	}
	nameIdx := binary.BigEndian.Uint16(e.raw)
	return cf.utf8(nameIdx)
}

// FieldName/FieldDescriptor are convenience accessors used by annotations.go
// and weaver.go.
func (cf *ClassFile) FieldName(f FieldInfo) string       { return cf.utf8(f.NameIndex) }
func (cf *ClassFile) FieldDescriptor(f FieldInfo) string { return cf.utf8(f.DescriptorIndex) }

// addUtf8 interns a Utf8 constant, returning its existing index if already
// present (keeps repeated weaves of the same class idempotent-ish and keeps
// the pool small).
func (cf *ClassFile) addUtf8(s string) uint16 {
	for i, e := range cf.pool {
		if e.tag == tagUtf8 && cf.utf8(uint16(i)) == s {
			return uint16(i)
		}
	}
	buf := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(buf, uint16(len(s)))
	copy(buf[2:], s)
	cf.pool = append(cf.pool, cpEntry{tag: tagUtf8, raw: buf})
	return uint16(len(cf.pool) - 1)
}

// addNameAndType interns a NameAndType constant.
func (cf *ClassFile) addNameAndType(nameIdx, descIdx uint16) uint16 {
	for i, e := range cf.pool {
		if e.tag == tagNameAndType && len(e.raw) == 4 &&
			binary.BigEndian.Uint16(e.raw) == nameIdx &&
			binary.BigEndian.Uint16(e.raw[2:]) == descIdx {
			return uint16(i)
		}
	}
	raw := make([]byte, 4)
	binary.BigEndian.PutUint16(raw, nameIdx)
	binary.BigEndian.PutUint16(raw[2:], descIdx)
	cf.pool = append(cf.pool, cpEntry{tag: tagNameAndType, raw: raw})
	return uint16(len(cf.pool) - 1)
}

// addFieldref interns a Fieldref constant pointing at classIdx/nameAndTypeIdx.
func (cf *ClassFile) addFieldref(classIdx, natIdx uint16) uint16 {
	for i, e := range cf.pool {
		if e.tag == tagFieldref && len(e.raw) == 4 &&
			binary.BigEndian.Uint16(e.raw) == classIdx &&
			binary.BigEndian.Uint16(e.raw[2:]) == natIdx {
			return uint16(i)
		}
	}
	raw := make([]byte, 4)
	binary.BigEndian.PutUint16(raw, classIdx)
	binary.BigEndian.PutUint16(raw[2:], natIdx)
	cf.pool = append(cf.pool, cpEntry{tag: tagFieldref, raw: raw})
	return uint16(len(cf.pool) - 1)
}

// Write re-serializes the class file to its wire format.
func (cf *ClassFile) Write() ([]byte, error) {
	var buf bytes.Buffer
	w := func(v any) {
		_ = binary.Write(&buf, binary.BigEndian, v)
	}

	w(uint32(0xCAFEBABE))
	w(cf.MinorVersion)
	w(cf.MajorVersion)

	w(uint16(len(cf.pool)))
	for i := 1; i < len(cf.pool); i++ {
		e := cf.pool[i]
		if e.tag == 0 {
			continue // second half of a wide (long/double) slot
		}
		buf.WriteByte(e.tag)
		buf.Write(e.raw)
		if e.wide() {
			i++
		}
	}

	w(cf.AccessFlags)
	w(cf.ThisClass)
	w(cf.SuperClass)

	w(uint16(len(cf.Interfaces)))
	for _, iface := range cf.Interfaces {
		w(iface)
	}

	w(uint16(len(cf.Fields)))
	for _, f := range cf.Fields {
		w(f.AccessFlags)
		w(f.NameIndex)
		w(f.DescriptorIndex)
		writeAttributes(&buf, f.Attributes)
	}

	w(uint16(len(cf.Methods)))
	for _, m := range cf.Methods {
		w(m.AccessFlags)
		w(m.NameIndex)
		w(m.DescriptorIndex)
		writeAttributes(&buf, m.Attributes)
	}

	writeAttributes(&buf, cf.Attributes)

	return buf.Bytes(), nil
}

func writeAttributes(buf *bytes.Buffer, attrs []AttributeInfo) {
	_ = binary.Write(buf, binary.BigEndian, uint16(len(attrs)))
	for _, a := range attrs {
		_ = binary.Write(buf, binary.BigEndian, a.NameIndex)
		_ = binary.Write(buf, binary.BigEndian, uint32(len(a.Info)))
		buf.Write(a.Info)
	}
}
