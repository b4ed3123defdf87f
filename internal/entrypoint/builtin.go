package entrypoint

import "firestige.xyz/gltrace/internal/ctype"

// Built-in call ids. The order must match builtinCalls.
const (
	GLXCreateContext ID = iota + 1
	GLXMakeCurrent
	GLXDestroyContext
	GLXSwapBuffers
	GLGetError
	GLGenBuffers
	GLDeleteBuffers
	GLBindBuffer
	GLBufferData
	GLBufferSubData
	GLGenTextures
	GLDeleteTextures
	GLBindTexture
	GLTexImage2D
	GLTexParameteri
	GLCreateShader
	GLDeleteShader
	GLShaderSource
	GLCompileShader
	GLCreateProgram
	GLDeleteProgram
	GLAttachShader
	GLLinkProgram
	GLUseProgram
	GLGetUniformLocation
	GLUniform1f
	GLUniform4fv
	GLUniformMatrix4fv
	GLGenQueries
	GLDeleteQueries
	GLBeginQuery
	GLEndQuery
	GLGenSamplers
	GLDeleteSamplers
	GLBindSampler
	GLGenVertexArrays
	GLDeleteVertexArrays
	GLBindVertexArray
	GLEnableVertexAttribArray
	GLVertexAttribPointer
	GLFenceSync
	GLDeleteSync
	GLClientWaitSync
	GLGenFramebuffers
	GLDeleteFramebuffers
	GLBindFramebuffer
	GLFramebufferTexture2D
	GLGenRenderbuffers
	GLDeleteRenderbuffers
	GLBindRenderbuffer
	GLRenderbufferStorage
	GLFramebufferRenderbuffer
	GLGenLists
	GLDeleteLists
	GLNewList
	GLEndList
	GLCallList
	GLGenProgramsARB
	GLDeleteProgramsARB
	GLBindProgramARB
	GLProgramStringARB
	GLClearColor
	GLClear
	GLViewport
	GLDrawArrays
	GLDrawElements
	GLInternalTraceCommand
)

func in(name string, t ctype.ID) ParamDescriptor {
	return ParamDescriptor{Name: name, Type: t}
}

func handle(name string, t ctype.ID, ns Namespace) ParamDescriptor {
	return ParamDescriptor{Name: name, Type: t, Namespace: ns}
}

func array(name string, t ctype.ID, ns Namespace, size string) ParamDescriptor {
	return ParamDescriptor{Name: name, Type: t, Namespace: ns, ArraySize: size}
}

func out(name string, t ctype.ID, ns Namespace, size string) ParamDescriptor {
	return ParamDescriptor{Name: name, Type: t, Namespace: ns, Dir: Out, ArraySize: size}
}

func params(ps ...ParamDescriptor) []ParamDescriptor { return ps }

const (
	mutates = FlagCheckError
	binds   = FlagCheckError | FlagBinds
	draws   = FlagCheckError | FlagDraw
	uploads = FlagCheckError | FlagLargePayload
)

var builtinCalls = []Descriptor{
	{ID: GLXCreateContext, Name: "glXCreateContextAttribsARB", Action: ActionCreateContext,
		Params: params(handle("share_context", ctype.GLcontext, Contexts), in("direct", ctype.GLboolean),
			array("attrib_list", ctype.ConstGLintPtr, Unclassified, "")),
		Return: ctype.GLcontext, ReturnNamespace: Contexts},
	{ID: GLXMakeCurrent, Name: "glXMakeCurrent", Action: ActionMakeCurrent,
		Params: params(handle("ctx", ctype.GLcontext, Contexts)), Return: ctype.GLboolean},
	{ID: GLXDestroyContext, Name: "glXDestroyContext", Action: ActionDestroyContext,
		Params: params(handle("ctx", ctype.GLcontext, Contexts))},
	{ID: GLXSwapBuffers, Name: "glXSwapBuffers", Action: ActionSwap},
	{ID: GLGetError, Name: "glGetError", Action: ActionGetError, Return: ctype.GLenum},

	{ID: GLGenBuffers, Name: "glGenBuffers", Action: ActionGenerate,
		Params: params(in("n", ctype.GLsizei), out("buffers", ctype.GLuintPtr, Buffers, "n"))},
	{ID: GLDeleteBuffers, Name: "glDeleteBuffers", Action: ActionDelete, Flags: mutates,
		Params: params(in("n", ctype.GLsizei), array("buffers", ctype.ConstGLuintPtr, Buffers, "n"))},
	{ID: GLBindBuffer, Name: "glBindBuffer", Flags: binds,
		Params: params(in("target", ctype.GLenum), handle("buffer", ctype.GLuint, Buffers))},
	{ID: GLBufferData, Name: "glBufferData", Flags: uploads,
		Params: params(in("target", ctype.GLenum), in("size", ctype.GLsizeiptr),
			array("data", ctype.ConstVoidPtr, Unclassified, "size"), in("usage", ctype.GLenum))},
	{ID: GLBufferSubData, Name: "glBufferSubData", Flags: uploads,
		Params: params(in("target", ctype.GLenum), in("offset", ctype.GLintptr), in("size", ctype.GLsizeiptr),
			array("data", ctype.ConstVoidPtr, Unclassified, "size"))},

	{ID: GLGenTextures, Name: "glGenTextures", Action: ActionGenerate,
		Params: params(in("n", ctype.GLsizei), out("textures", ctype.GLuintPtr, Textures, "n"))},
	{ID: GLDeleteTextures, Name: "glDeleteTextures", Action: ActionDelete, Flags: mutates,
		Params: params(in("n", ctype.GLsizei), array("textures", ctype.ConstGLuintPtr, Textures, "n"))},
	{ID: GLBindTexture, Name: "glBindTexture", Flags: binds,
		Params: params(in("target", ctype.GLenum), handle("texture", ctype.GLuint, Textures))},
	{ID: GLTexImage2D, Name: "glTexImage2D", Flags: uploads,
		Params: params(in("target", ctype.GLenum), in("level", ctype.GLint), in("internalformat", ctype.GLint),
			in("width", ctype.GLsizei), in("height", ctype.GLsizei), in("border", ctype.GLint),
			in("format", ctype.GLenum), in("type", ctype.GLenum), array("pixels", ctype.ConstVoidPtr, Unclassified, ""))},
	{ID: GLTexParameteri, Name: "glTexParameteri", Flags: mutates,
		Params: params(in("target", ctype.GLenum), in("pname", ctype.GLenum), in("param", ctype.GLint))},

	{ID: GLCreateShader, Name: "glCreateShader", Action: ActionGenerate,
		Params: params(in("type", ctype.GLenum)), Return: ctype.GLuint, ReturnNamespace: Shaders},
	{ID: GLDeleteShader, Name: "glDeleteShader", Action: ActionDelete, Flags: mutates,
		Params: params(handle("shader", ctype.GLuint, Shaders))},
	{ID: GLShaderSource, Name: "glShaderSource", Flags: mutates,
		Params: params(handle("shader", ctype.GLuint, Shaders), in("count", ctype.GLsizei),
			in("string", ctype.ConstVoidPtr), array("length", ctype.ConstGLintPtr, Unclassified, "count"))},
	{ID: GLCompileShader, Name: "glCompileShader", Flags: mutates,
		Params: params(handle("shader", ctype.GLuint, Shaders))},
	{ID: GLCreateProgram, Name: "glCreateProgram", Action: ActionGenerate,
		Return: ctype.GLuint, ReturnNamespace: Programs},
	{ID: GLDeleteProgram, Name: "glDeleteProgram", Action: ActionDelete, Flags: mutates,
		Params: params(handle("program", ctype.GLuint, Programs))},
	{ID: GLAttachShader, Name: "glAttachShader", Flags: mutates,
		Params: params(handle("program", ctype.GLuint, Programs), handle("shader", ctype.GLuint, Shaders))},
	{ID: GLLinkProgram, Name: "glLinkProgram", Flags: mutates,
		Params: params(handle("program", ctype.GLuint, Programs))},
	{ID: GLUseProgram, Name: "glUseProgram", Flags: binds,
		Params: params(handle("program", ctype.GLuint, Programs))},
	{ID: GLGetUniformLocation, Name: "glGetUniformLocation", Action: ActionUniformLocation,
		Params: params(handle("program", ctype.GLuint, Programs), array("name", ctype.ConstGLcharPtr, Unclassified, "")),
		Return: ctype.GLint, ReturnNamespace: Locations},
	{ID: GLUniform1f, Name: "glUniform1f", Flags: mutates,
		Params: params(handle("location", ctype.GLint, Locations), in("v0", ctype.GLfloat))},
	{ID: GLUniform4fv, Name: "glUniform4fv", Flags: mutates,
		Params: params(handle("location", ctype.GLint, Locations), in("count", ctype.GLsizei),
			array("value", ctype.ConstGLfloatPtr, Unclassified, "count*4"))},
	{ID: GLUniformMatrix4fv, Name: "glUniformMatrix4fv", Flags: mutates,
		Params: params(handle("location", ctype.GLint, Locations), in("count", ctype.GLsizei),
			in("transpose", ctype.GLboolean), array("value", ctype.ConstGLfloatPtr, Unclassified, "count*16"))},

	{ID: GLGenQueries, Name: "glGenQueries", Action: ActionGenerate,
		Params: params(in("n", ctype.GLsizei), out("ids", ctype.GLuintPtr, Queries, "n"))},
	{ID: GLDeleteQueries, Name: "glDeleteQueries", Action: ActionDelete, Flags: mutates,
		Params: params(in("n", ctype.GLsizei), array("ids", ctype.ConstGLuintPtr, Queries, "n"))},
	{ID: GLBeginQuery, Name: "glBeginQuery", Flags: mutates,
		Params: params(in("target", ctype.GLenum), handle("id", ctype.GLuint, Queries))},
	{ID: GLEndQuery, Name: "glEndQuery", Flags: mutates,
		Params: params(in("target", ctype.GLenum))},

	{ID: GLGenSamplers, Name: "glGenSamplers", Action: ActionGenerate,
		Params: params(in("count", ctype.GLsizei), out("samplers", ctype.GLuintPtr, Samplers, "count"))},
	{ID: GLDeleteSamplers, Name: "glDeleteSamplers", Action: ActionDelete, Flags: mutates,
		Params: params(in("count", ctype.GLsizei), array("samplers", ctype.ConstGLuintPtr, Samplers, "count"))},
	{ID: GLBindSampler, Name: "glBindSampler", Flags: binds,
		Params: params(in("unit", ctype.GLuint), handle("sampler", ctype.GLuint, Samplers))},

	{ID: GLGenVertexArrays, Name: "glGenVertexArrays", Action: ActionGenerate,
		Params: params(in("n", ctype.GLsizei), out("arrays", ctype.GLuintPtr, VertexArrays, "n"))},
	{ID: GLDeleteVertexArrays, Name: "glDeleteVertexArrays", Action: ActionDelete, Flags: mutates,
		Params: params(in("n", ctype.GLsizei), array("arrays", ctype.ConstGLuintPtr, VertexArrays, "n"))},
	{ID: GLBindVertexArray, Name: "glBindVertexArray", Flags: binds,
		Params: params(handle("array", ctype.GLuint, VertexArrays))},
	{ID: GLEnableVertexAttribArray, Name: "glEnableVertexAttribArray", Flags: mutates,
		Params: params(in("index", ctype.GLuint))},
	{ID: GLVertexAttribPointer, Name: "glVertexAttribPointer", Flags: mutates,
		Params: params(in("index", ctype.GLuint), in("size", ctype.GLint), in("type", ctype.GLenum),
			in("normalized", ctype.GLboolean), in("stride", ctype.GLsizei), in("pointer", ctype.ConstVoidPtr))},

	{ID: GLFenceSync, Name: "glFenceSync", Action: ActionGenerate,
		Params: params(in("condition", ctype.GLenum), in("flags", ctype.GLbitfield)),
		Return: ctype.GLsync, ReturnNamespace: SyncObjects},
	{ID: GLDeleteSync, Name: "glDeleteSync", Action: ActionDelete, Flags: mutates,
		Params: params(handle("sync", ctype.GLsync, SyncObjects))},
	{ID: GLClientWaitSync, Name: "glClientWaitSync",
		Params: params(handle("sync", ctype.GLsync, SyncObjects), in("flags", ctype.GLbitfield), in("timeout", ctype.GLuint64)),
		Return: ctype.GLenum},

	{ID: GLGenFramebuffers, Name: "glGenFramebuffers", Action: ActionGenerate,
		Params: params(in("n", ctype.GLsizei), out("framebuffers", ctype.GLuintPtr, Framebuffers, "n"))},
	{ID: GLDeleteFramebuffers, Name: "glDeleteFramebuffers", Action: ActionDelete, Flags: mutates,
		Params: params(in("n", ctype.GLsizei), array("framebuffers", ctype.ConstGLuintPtr, Framebuffers, "n"))},
	{ID: GLBindFramebuffer, Name: "glBindFramebuffer", Flags: binds,
		Params: params(in("target", ctype.GLenum), handle("framebuffer", ctype.GLuint, Framebuffers))},
	{ID: GLFramebufferTexture2D, Name: "glFramebufferTexture2D", Flags: mutates,
		Params: params(in("target", ctype.GLenum), in("attachment", ctype.GLenum), in("textarget", ctype.GLenum),
			handle("texture", ctype.GLuint, Textures), in("level", ctype.GLint))},
	{ID: GLGenRenderbuffers, Name: "glGenRenderbuffers", Action: ActionGenerate,
		Params: params(in("n", ctype.GLsizei), out("renderbuffers", ctype.GLuintPtr, Renderbuffers, "n"))},
	{ID: GLDeleteRenderbuffers, Name: "glDeleteRenderbuffers", Action: ActionDelete, Flags: mutates,
		Params: params(in("n", ctype.GLsizei), array("renderbuffers", ctype.ConstGLuintPtr, Renderbuffers, "n"))},
	{ID: GLBindRenderbuffer, Name: "glBindRenderbuffer", Flags: binds,
		Params: params(in("target", ctype.GLenum), handle("renderbuffer", ctype.GLuint, Renderbuffers))},
	{ID: GLRenderbufferStorage, Name: "glRenderbufferStorage", Flags: mutates,
		Params: params(in("target", ctype.GLenum), in("internalformat", ctype.GLenum),
			in("width", ctype.GLsizei), in("height", ctype.GLsizei))},
	{ID: GLFramebufferRenderbuffer, Name: "glFramebufferRenderbuffer", Flags: mutates,
		Params: params(in("target", ctype.GLenum), in("attachment", ctype.GLenum), in("renderbuffertarget", ctype.GLenum),
			handle("renderbuffer", ctype.GLuint, Renderbuffers))},

	{ID: GLGenLists, Name: "glGenLists", Action: ActionGenLists,
		Params: params(in("range", ctype.GLsizei)), Return: ctype.GLuint, ReturnNamespace: DisplayLists},
	{ID: GLDeleteLists, Name: "glDeleteLists", Action: ActionDeleteLists, Flags: mutates,
		Params: params(handle("list", ctype.GLuint, DisplayLists), in("range", ctype.GLsizei))},
	{ID: GLNewList, Name: "glNewList", Action: ActionNewList, Flags: mutates,
		Params: params(handle("list", ctype.GLuint, DisplayLists), in("mode", ctype.GLenum))},
	{ID: GLEndList, Name: "glEndList", Action: ActionEndList, Flags: mutates},
	{ID: GLCallList, Name: "glCallList", Flags: draws,
		Params: params(handle("list", ctype.GLuint, DisplayLists))},

	{ID: GLGenProgramsARB, Name: "glGenProgramsARB", Action: ActionGenerate,
		Params: params(in("n", ctype.GLsizei), out("programs", ctype.GLuintPtr, ARBPrograms, "n"))},
	{ID: GLDeleteProgramsARB, Name: "glDeleteProgramsARB", Action: ActionDelete, Flags: mutates,
		Params: params(in("n", ctype.GLsizei), array("programs", ctype.ConstGLuintPtr, ARBPrograms, "n"))},
	{ID: GLBindProgramARB, Name: "glBindProgramARB", Flags: binds,
		Params: params(in("target", ctype.GLenum), handle("program", ctype.GLuint, ARBPrograms))},
	{ID: GLProgramStringARB, Name: "glProgramStringARB", Flags: mutates,
		Params: params(in("target", ctype.GLenum), in("format", ctype.GLenum), in("len", ctype.GLsizei),
			array("string", ctype.ConstVoidPtr, Unclassified, "len"))},

	{ID: GLClearColor, Name: "glClearColor", Flags: mutates,
		Params: params(in("red", ctype.GLclampf), in("green", ctype.GLclampf), in("blue", ctype.GLclampf), in("alpha", ctype.GLclampf))},
	{ID: GLClear, Name: "glClear", Flags: draws,
		Params: params(in("mask", ctype.GLbitfield))},
	{ID: GLViewport, Name: "glViewport", Flags: mutates,
		Params: params(in("x", ctype.GLint), in("y", ctype.GLint), in("width", ctype.GLsizei), in("height", ctype.GLsizei))},
	{ID: GLDrawArrays, Name: "glDrawArrays", Flags: draws,
		Params: params(in("mode", ctype.GLenum), in("first", ctype.GLint), in("count", ctype.GLsizei))},
	{ID: GLDrawElements, Name: "glDrawElements", Flags: draws,
		Params: params(in("mode", ctype.GLenum), in("count", ctype.GLsizei), in("type", ctype.GLenum),
			in("indices", ctype.ConstVoidPtr))},

	{ID: GLInternalTraceCommand, Name: "glInternalTraceCommand", Action: ActionInternal,
		Params: params(in("cmd", ctype.GLuint))},
}

// Builtin returns the built-in GL call registry resolved against ctypes.
func Builtin(ctypes *ctype.Registry) *Registry {
	r, err := NewRegistry(ctypes, builtinCalls, NewEnumTable(builtinEnums))
	if err != nil {
		panic(err)
	}
	return r
}
