package ctype

// Built-in wire type ids. The order must match builtinTypes.
const (
	Void ID = iota + 1
	GLenum
	GLboolean
	GLbitfield
	GLbyte
	GLubyte
	GLshort
	GLushort
	GLint
	GLuint
	GLsizei
	GLfloat
	GLclampf
	GLdouble
	GLint64
	GLuint64
	GLintptr
	GLsizeiptr
	GLsync
	GLcontext
	GLchar
	VoidPtr
	ConstVoidPtr
	GLuintPtr
	ConstGLuintPtr
	GLintPtr
	ConstGLintPtr
	GLfloatPtr
	ConstGLfloatPtr
	ConstGLcharPtr
	GLcharPtr
	GLsizeiPtr
	GLuint64Ptr
)

// PointerSize is the width of pointer slots in the built-in registry.
const PointerSize = 8

var builtinTypes = []WireType{
	{ID: Void, Name: "void", Size: 0, IsOpaque: true},
	{ID: GLenum, Name: "GLenum", Size: 4},
	{ID: GLboolean, Name: "GLboolean", Size: 1},
	{ID: GLbitfield, Name: "GLbitfield", Size: 4},
	{ID: GLbyte, Name: "GLbyte", Size: 1, IsSigned: true},
	{ID: GLubyte, Name: "GLubyte", Size: 1},
	{ID: GLshort, Name: "GLshort", Size: 2, IsSigned: true},
	{ID: GLushort, Name: "GLushort", Size: 2},
	{ID: GLint, Name: "GLint", Size: 4, IsSigned: true},
	{ID: GLuint, Name: "GLuint", Size: 4},
	{ID: GLsizei, Name: "GLsizei", Size: 4, IsSigned: true},
	{ID: GLfloat, Name: "GLfloat", Size: 4, IsFloat: true, IsSigned: true},
	{ID: GLclampf, Name: "GLclampf", Size: 4, IsFloat: true, IsSigned: true},
	{ID: GLdouble, Name: "GLdouble", Size: 8, IsFloat: true, IsSigned: true},
	{ID: GLint64, Name: "GLint64", Size: 8, IsSigned: true},
	{ID: GLuint64, Name: "GLuint64", Size: 8},
	{ID: GLintptr, Name: "GLintptr", Size: PointerSize, IsSigned: true},
	{ID: GLsizeiptr, Name: "GLsizeiptr", Size: PointerSize, IsSigned: true},
	{ID: GLsync, Name: "GLsync", Size: PointerSize, IsOpaque: true},
	{ID: GLcontext, Name: "GLXContext", Size: PointerSize, IsOpaque: true},
	{ID: GLchar, Name: "GLchar", Size: 1, IsSigned: true},
	{ID: VoidPtr, Name: "void *", Size: PointerSize, IsPointer: true, Pointee: Void},
	{ID: ConstVoidPtr, Name: "const void *", Size: PointerSize, IsPointer: true, Pointee: Void},
	{ID: GLuintPtr, Name: "GLuint *", Size: PointerSize, IsPointer: true, Pointee: GLuint},
	{ID: ConstGLuintPtr, Name: "const GLuint *", Size: PointerSize, IsPointer: true, Pointee: GLuint},
	{ID: GLintPtr, Name: "GLint *", Size: PointerSize, IsPointer: true, Pointee: GLint},
	{ID: ConstGLintPtr, Name: "const GLint *", Size: PointerSize, IsPointer: true, Pointee: GLint},
	{ID: GLfloatPtr, Name: "GLfloat *", Size: PointerSize, IsPointer: true, Pointee: GLfloat},
	{ID: ConstGLfloatPtr, Name: "const GLfloat *", Size: PointerSize, IsPointer: true, Pointee: GLfloat},
	{ID: ConstGLcharPtr, Name: "const GLchar *", Size: PointerSize, IsPointer: true, Pointee: GLchar},
	{ID: GLcharPtr, Name: "GLchar *", Size: PointerSize, IsPointer: true, Pointee: GLchar},
	{ID: GLsizeiPtr, Name: "GLsizei *", Size: PointerSize, IsPointer: true, Pointee: GLsizei},
	{ID: GLuint64Ptr, Name: "GLuint64 *", Size: PointerSize, IsPointer: true, Pointee: GLuint64},
}

// Builtin returns a fresh registry holding the built-in GL wire types.
func Builtin() *Registry {
	r, err := NewRegistry(builtinTypes)
	if err != nil {
		panic(err)
	}
	return r
}
