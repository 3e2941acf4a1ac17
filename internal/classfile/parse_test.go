package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klasslink/internal/kind"
	"github.com/klasslink/internal/symbol"
	"github.com/klasslink/internal/testutil"
	apperrors "github.com/klasslink/pkg/errors"
)

func TestParse_SimpleClass(t *testing.T) {
	symbols := symbol.NewTable()
	b := testutil.NewClass("pkg/Point", "java/lang/Object", testutil.AccPublic|testutil.AccSuper).
		Interfaces("java/io/Serializable", "java/lang/Comparable").
		Field(testutil.AccPrivate, "x", "I").
		Field(testutil.AccPrivate, "y", "J").
		Field(testutil.AccPrivate, "label", "Ljava/lang/String;").
		Method(testutil.AccPublic, "<init>", "()V").
		Method(testutil.AccPublic|testutil.AccAbstract, "area", "()D").
		SourceFile("Point.java")

	class, err := Parse(b.Build(), symbols, "pkg/Point")
	require.NoError(t, err)

	assert.Equal(t, "pkg/Point", class.Name.String())
	assert.Equal(t, "Lpkg/Point;", class.Type.String())
	assert.Equal(t, "java/lang/Object", class.SuperName.String())
	require.Len(t, class.InterfaceNames, 2)
	assert.Equal(t, "java/io/Serializable", class.InterfaceNames[0].String())
	assert.Equal(t, "java/lang/Comparable", class.InterfaceNames[1].String())
	assert.Equal(t, "Point.java", class.SourceFile)
	assert.False(t, class.IsInterface())

	require.Len(t, class.Fields, 3)
	assert.Equal(t, kind.Int, class.Fields[0].Kind)
	assert.Equal(t, kind.Long, class.Fields[1].Kind)
	assert.Equal(t, kind.Object, class.Fields[2].Kind)

	require.Len(t, class.Methods, 2)
	ctor := class.FindMethod("<init>", "()V")
	require.NotNil(t, ctor)
	assert.True(t, ctor.IsConstructor())
	require.NotNil(t, ctor.Code)
	assert.Equal(t, []byte{0xb1}, ctor.Code.Bytecode)

	area := class.FindMethod("area", "()D")
	require.NotNil(t, area)
	assert.True(t, area.IsAbstract())
	assert.Nil(t, area.Code)

	// Symbols are canonical within the table.
	assert.Same(t, symbols.Name("pkg/Point"), class.Name)
}

func TestParse_ObjectHasNoSuper(t *testing.T) {
	class, err := Parse(testutil.ObjectClass(), symbol.NewTable(), "java/lang/Object")
	require.NoError(t, err)
	assert.Nil(t, class.SuperName)
	assert.Equal(t, uint16(0), class.SuperClassIndex)
}

func TestParse_ConstantValue(t *testing.T) {
	b := testutil.NewClass("pkg/Consts", "java/lang/Object", testutil.AccPublic)
	intIdx := b.Integer(42)
	strIdx := b.String("hello")
	longIdx := b.Long(1 << 40)
	b.Field(testutil.AccStatic|testutil.AccFinal, "ANSWER", "I", testutil.WithConstantValue(intIdx)).
		Field(testutil.AccStatic|testutil.AccFinal, "GREETING", "Ljava/lang/String;", testutil.WithConstantValue(strIdx)).
		Field(testutil.AccStatic|testutil.AccFinal, "BIG", "J", testutil.WithConstantValue(longIdx))

	class, err := Parse(b.Build(), symbol.NewTable(), "")
	require.NoError(t, err)

	answer := class.FindField("ANSWER", "I")
	require.NotNil(t, answer)
	assert.True(t, answer.HasConstantValue())
	v, err := class.Pool.Int(answer.ConstantValueIndex)
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)

	greeting := class.FindField("GREETING", "Ljava/lang/String;")
	s, err := class.Pool.StringValue(greeting.ConstantValueIndex)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	big := class.FindField("BIG", "J")
	l, err := class.Pool.Long(big.ConstantValueIndex)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<40), l)
}

func TestParse_ConstantValueTypeMismatch(t *testing.T) {
	b := testutil.NewClass("pkg/Bad", "java/lang/Object", testutil.AccPublic)
	strIdx := b.String("oops")
	b.Field(testutil.AccStatic|testutil.AccFinal, "N", "I", testutil.WithConstantValue(strIdx))

	_, err := Parse(b.Build(), symbol.NewTable(), "pkg/Bad")
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidClassFormat(err))
	assert.Contains(t, err.Error(), "ConstantValue")
}

func TestParse_Errors(t *testing.T) {
	valid := testutil.SimpleClass("pkg/A")

	tests := []struct {
		name     string
		data     []byte
		expected string
		contains string
	}{
		{"empty", nil, "pkg/A", "truncated"},
		{"bad magic", append([]byte{0xca, 0xfe, 0xba, 0xbf}, valid[4:]...), "pkg/A", "bad magic"},
		{"truncated", valid[:len(valid)-3], "pkg/A", "truncated"},
		{"trailing bytes", append(append([]byte{}, valid...), 0x00), "pkg/A", "trailing"},
		{"wrong name", valid, "pkg/B", "wrong name"},
		{"unsupported version", testutil.NewClass("pkg/A", "java/lang/Object", 0).Version(99).Build(), "pkg/A", "unsupported class file version"},
		{"missing super", testutil.NewClass("pkg/A", "", 0).Build(), "pkg/A", "no superclass"},
		{"object with super", testutil.NewClass("java/lang/Object", "java/lang/Thing", 0).Build(), "java/lang/Object", "must not declare a superclass"},
		{"bad field descriptor", testutil.NewClass("pkg/A", "java/lang/Object", 0).Field(0, "f", "Q").Build(), "pkg/A", "invalid type character"},
		{"bad method descriptor", testutil.NewClass("pkg/A", "java/lang/Object", 0).Method(testutil.AccAbstract, "m", "(I").Build(), "pkg/A", "malformed method descriptor"},
		{"duplicate method", testutil.NewClass("pkg/A", "java/lang/Object", 0).Method(0, "m", "()V").Method(0, "m", "()V").Build(), "pkg/A", "duplicate method"},
		{"duplicate field", testutil.NewClass("pkg/A", "java/lang/Object", 0).Field(0, "f", "I").Field(0, "f", "I").Build(), "pkg/A", "duplicate field"},
		{"invalid opcode", testutil.NewClass("pkg/A", "java/lang/Object", 0).Method(0, "m", "()V", testutil.WithCode(0, 1, []byte{0xe0})).Build(), "pkg/A", "invalid opcode"},
		{"interface constructor", testutil.NewInterface("pkg/A").Method(testutil.AccPublic, "<init>", "()V").Build(), "pkg/A", "constructor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data, symbol.NewTable(), tt.expected)
			require.Error(t, err)
			assert.True(t, apperrors.IsInvalidClassFormat(err))
			assert.Contains(t, err.Error(), tt.contains)
			assert.Contains(t, err.Error(), tt.expected)
		})
	}
}

func TestParse_MethodAttributes(t *testing.T) {
	b := testutil.NewClass("pkg/M", "java/lang/Object", testutil.AccPublic)
	b.Method(testutil.AccPublic, "run", "(I)V",
		testutil.WithCode(2, 2, []byte{0x1b, 0x57, 0xb1},
			testutil.WithLineNumbers(0, 10, 2, 11),
			testutil.WithLocalVariable(0, 3, "n", "I", 1)),
		testutil.WithExceptions("java/io/IOException"),
		testutil.WithSignature("<T:Ljava/lang/Object;>(I)V"),
		testutil.WithTypeAnnotations([]byte{0x00, 0x00}),
	)

	class, err := Parse(b.Build(), symbol.NewTable(), "pkg/M")
	require.NoError(t, err)

	m := class.Methods[0]
	assert.Equal(t, []string{"java/io/IOException"}, m.Exceptions)
	assert.Equal(t, "<T:Ljava/lang/Object;>(I)V", m.GenericSignature)
	assert.Equal(t, []byte{0x00, 0x00}, m.TypeAnnotations)
	require.NotNil(t, m.Code)
	assert.Equal(t, uint16(2), m.Code.MaxStack)
	assert.Equal(t, []LineNumber{{0, 10}, {2, 11}}, m.Code.LineNumbers)
	require.Len(t, m.Code.LocalVariables, 1)
	assert.Equal(t, "n", m.Code.LocalVariables[0].Name)
	assert.Equal(t, "I", m.Code.LocalVariables[0].Descriptor)
}

func TestParse_InnerClassAttributes(t *testing.T) {
	b := testutil.NewClass("pkg/Outer$1", "java/lang/Object", testutil.AccSuper).
		EnclosingMethod("pkg/Outer", "run", "()V").
		InnerClasses(testutil.InnerClassEntry{Inner: "pkg/Outer$1"}, testutil.InnerClassEntry{Inner: "pkg/Outer$1$1", Outer: "", Name: ""})

	class, err := Parse(b.Build(), symbol.NewTable(), "pkg/Outer$1")
	require.NoError(t, err)

	require.NotNil(t, class.EnclosingMethod)
	assert.Equal(t, EnclosingMethod{ClassName: "pkg/Outer", MethodName: "run", MethodDescriptor: "()V"}, *class.EnclosingMethod)
	require.Len(t, class.InnerClasses, 2)
	assert.Equal(t, "pkg/Outer$1", class.InnerClasses[0].InnerClass)
	assert.Equal(t, "", class.InnerClasses[0].OuterClass)
}

func TestParsedMethod_MarkChangedOnce(t *testing.T) {
	class, err := Parse(testutil.SimpleClass("pkg/A"), symbol.NewTable(), "pkg/A")
	require.NoError(t, err)

	m := class.Methods[0]
	assert.False(t, m.BodyChanged())
	assert.True(t, m.MarkChanged())
	assert.False(t, m.MarkChanged())
	assert.True(t, m.BodyChanged())
}
