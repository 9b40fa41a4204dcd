package weave

// injectMarkers lists the annotation type descriptors the weaver treats as
// "this field needs a synthetic setter" (§4.D, §8 scenario S1). Both the
// legacy javax.inject and the jakarta.inject namespaces are recognized since
// the annotation IR's front end may target either.
var injectMarkers = map[string]bool{
	"Ljavax/inject/Inject;":   true,
	"Ljakarta/inject/Inject;": true,
	"Lorg/springframework/beans/factory/annotation/Autowired;": true,
	"Lorg/springframework/beans/factory/annotation/Value;":     true,
	"Lcom/veld/annotation/Inject;":                              true,
	"Lcom/veld/annotation/Value;":                                true,
}

// HasInjectAnnotation reports whether f carries a RuntimeVisible(Invisible)
// Annotations attribute naming one of injectMarkers.
func (cf *ClassFile) HasInjectAnnotation(f FieldInfo) bool {
	for _, attr := range f.Attributes {
		if attr.Name != "RuntimeVisibleAnnotations" && attr.Name != "RuntimeInvisibleAnnotations" {
			continue
		}
		for _, typeDesc := range cf.annotationTypes(attr.Info) {
			if injectMarkers[typeDesc] {
				return true
			}
		}
	}
	return false
}

// annotationTypes decodes a *Annotations attribute body (JVM spec §4.7.16)
// and returns each annotation's type descriptor, resolved through the
// constant pool. Parse errors yield no results rather than failing the
// whole weave — a field the weaver can't read an annotation for is simply
// not treated as an injection target.
func (cf *ClassFile) annotationTypes(info []byte) []string {
	r := &reader{b: info}
	count, err := r.u2()
	if err != nil {
		return nil
	}
	out := make([]string, 0, count)
	for i := 0; i < int(count); i++ {
		typeIdx, err := r.annotation()
		if err != nil {
			return out
		}
		out = append(out, cf.utf8(typeIdx))
	}
	return out
}

// annotation reads one annotation structure and returns its type_index,
// leaving r positioned just past the structure.
func (r *reader) annotation() (uint16, error) {
	typeIdx, err := r.u2()
	if err != nil {
		return 0, err
	}
	pairCount, err := r.u2()
	if err != nil {
		return 0, err
	}
	for i := 0; i < int(pairCount); i++ {
		if _, err := r.u2(); err != nil { // element_name_index
			return 0, err
		}
		if err := r.elementValue(); err != nil {
			return 0, err
		}
	}
	return typeIdx, nil
}

// elementValue skips one element_value structure (JVM spec §4.7.16.1).
func (r *reader) elementValue() error {
	tag, err := r.u1()
	if err != nil {
		return err
	}
	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's', 'c':
		_, err := r.u2()
		return err
	case 'e':
		if _, err := r.u2(); err != nil {
			return err
		}
		_, err := r.u2()
		return err
	case '@':
		_, err := r.annotation()
		return err
	case '[':
		n, err := r.u2()
		if err != nil {
			return err
		}
		for i := 0; i < int(n); i++ {
			if err := r.elementValue(); err != nil {
				return err
			}
		}
		return nil
	default:
		return errUnknownElementValueTag(tag)
	}
}

type errUnknownElementValueTag byte

func (e errUnknownElementValueTag) Error() string {
	return "weave: unknown element_value tag " + string(rune(e))
}
