package entrypoint

// EnumTable resolves GLenum values to names and back for the JSON projection.
type EnumTable struct {
	names  map[uint32]string
	values map[string]uint32
}

// NewEnumTable builds a table from name->value pairs. When two names share a
// value the first one inserted in sorted order wins for value->name lookups.
func NewEnumTable(values map[string]uint32) *EnumTable {
	t := &EnumTable{
		names:  make(map[uint32]string, len(values)),
		values: make(map[string]uint32, len(values)),
	}
	for name, v := range values {
		t.values[name] = v
		if prev, ok := t.names[v]; !ok || name < prev {
			t.names[v] = name
		}
	}
	return t
}

// Name returns the symbolic name of v.
func (t *EnumTable) Name(v uint32) (string, bool) {
	n, ok := t.names[v]
	return n, ok
}

// Value returns the numeric value of name.
func (t *EnumTable) Value(name string) (uint32, bool) {
	v, ok := t.values[name]
	return v, ok
}

// Len returns the number of names.
func (t *EnumTable) Len() int {
	return len(t.values)
}

var builtinEnums = map[string]uint32{
	"GL_POINTS":                        0x0000,
	"GL_LINES":                         0x0001,
	"GL_TRIANGLES":                     0x0004,
	"GL_TRIANGLE_STRIP":                0x0005,
	"GL_INVALID_ENUM":                  0x0500,
	"GL_INVALID_VALUE":                 0x0501,
	"GL_INVALID_OPERATION":             0x0502,
	"GL_OUT_OF_MEMORY":                 0x0505,
	"GL_INVALID_FRAMEBUFFER_OPERATION": 0x0506,
	"GL_TEXTURE_2D":                    0x0DE1,
	"GL_UNSIGNED_BYTE":                 0x1401,
	"GL_UNSIGNED_SHORT":                0x1403,
	"GL_UNSIGNED_INT":                  0x1405,
	"GL_FLOAT":                         0x1406,
	"GL_COMPILE":                       0x1300,
	"GL_COMPILE_AND_EXECUTE":           0x1301,
	"GL_RGB":                           0x1907,
	"GL_RGBA":                          0x1908,
	"GL_NEAREST":                       0x2600,
	"GL_LINEAR":                        0x2601,
	"GL_TEXTURE_MAG_FILTER":            0x2800,
	"GL_TEXTURE_MIN_FILTER":            0x2801,
	"GL_TEXTURE_WRAP_S":                0x2802,
	"GL_TEXTURE_WRAP_T":                0x2803,
	"GL_REPEAT":                        0x2901,
	"GL_RGBA8":                         0x8058,
	"GL_CLAMP_TO_EDGE":                 0x812F,
	"GL_DEPTH_COMPONENT24":             0x81A6,
	"GL_VERTEX_PROGRAM_ARB":            0x8620,
	"GL_FRAGMENT_PROGRAM_ARB":          0x8804,
	"GL_PROGRAM_FORMAT_ASCII_ARB":      0x8875,
	"GL_ARRAY_BUFFER":                  0x8892,
	"GL_ELEMENT_ARRAY_BUFFER":          0x8893,
	"GL_STREAM_DRAW":                   0x88E0,
	"GL_STATIC_DRAW":                   0x88E4,
	"GL_DYNAMIC_DRAW":                  0x88E8,
	"GL_SAMPLES_PASSED":                0x8914,
	"GL_FRAGMENT_SHADER":               0x8B30,
	"GL_VERTEX_SHADER":                 0x8B31,
	"GL_READ_FRAMEBUFFER":              0x8CA8,
	"GL_DRAW_FRAMEBUFFER":              0x8CA9,
	"GL_COLOR_ATTACHMENT0":             0x8CE0,
	"GL_DEPTH_ATTACHMENT":              0x8D00,
	"GL_FRAMEBUFFER":                   0x8D40,
	"GL_RENDERBUFFER":                  0x8D41,
	"GL_ANY_SAMPLES_PASSED":            0x8C2F,
	"GL_SYNC_GPU_COMMANDS_COMPLETE":    0x9117,
	"GL_ALREADY_SIGNALED":              0x911A,
	"GL_TIMEOUT_EXPIRED":               0x911B,
	"GL_CONDITION_SATISFIED":           0x911C,
}
