package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldCatalogue(t *testing.T) {
	ids := FieldIDs()
	require.Equal(t, []FieldID{
		FieldTitulo, FieldDescripcion, FieldTema,
		FieldPalabrasClave, FieldExtensionTemporal, FieldExtensionEspacial,
	}, ids)

	for _, f := range Fields() {
		assert.NotEmpty(t, f.Name, "field %s", f.ID)
		assert.Contains(t, f.DefaultPrompt, FileContentPlaceholder, "field %s", f.ID)
	}
	assert.False(t, FieldID("autor").Valid())
}

func TestParseFields_RejectsDuplicates(t *testing.T) {
	_, err := parseFields([]byte("- id: a\n- id: a\n"))
	require.Error(t, err)

	_, err = parseFields([]byte("- nombre: sin id\n"))
	require.Error(t, err)
}

func TestStorageKey(t *testing.T) {
	tests := []struct {
		field FieldID
		want  string
	}{
		{FieldTitulo, "aiGeneratedTitulo"},
		{FieldDescripcion, "aiGeneratedDescripcion"},
		{FieldPalabrasClave, "aiGeneratedPalabrasClave"},
		{FieldExtensionTemporal, "aiGeneratedExtensionTemporal"},
		{FieldExtensionEspacial, "aiGeneratedExtensionEspacial"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.field.StorageKey())
	}
}

func TestAssignment_AddIsIdempotent(t *testing.T) {
	for _, id := range FieldIDs() {
		a := NewAssignment()
		changed, err := a.Add(id, "nombre")
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = a.Add(id, "nombre")
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, []string{"nombre"}, a.Assigned(id))
	}
}

func TestAssignment_AddRejectsUnknownField(t *testing.T) {
	a := NewAssignment()
	_, err := a.Add("autor", "x")
	require.ErrorIs(t, err, ErrUnknownField)
}

func TestAssignment_RemoveAbsentIsNoop(t *testing.T) {
	a := NewAssignment()
	_, _ = a.Add(FieldTema, "categoria")

	assert.False(t, a.Remove(FieldTema, "otra"))
	assert.False(t, a.Remove(FieldTitulo, "categoria"))
	assert.Equal(t, []string{"categoria"}, a.Assigned(FieldTema))

	assert.True(t, a.Remove(FieldTema, "categoria"))
	assert.Empty(t, a.Assigned(FieldTema))
}

func TestAssignment_PreservesInsertionOrder(t *testing.T) {
	a := NewAssignment()
	for _, p := range []string{"c", "a", "b"} {
		_, _ = a.Add(FieldPalabrasClave, p)
	}
	a.Remove(FieldPalabrasClave, "a")
	assert.Equal(t, []string{"c", "b"}, a.Assigned(FieldPalabrasClave))
}

func TestAssignment_NonEmptyAndFields(t *testing.T) {
	a := NewAssignment()
	_, _ = a.Add(FieldTema, "x")
	_, _ = a.Add(FieldTitulo, "y")

	assert.Equal(t, []FieldID{FieldTitulo, FieldTema}, a.Fields())
	assert.Len(t, a.NonEmpty(), 2)
}

func TestNormalize(t *testing.T) {
	a := Normalize(map[FieldID][]string{
		FieldTitulo: {"nombre", "nombre", "titulo"},
		"autor":     {"x"},
	})
	assert.Equal(t, []string{"nombre", "titulo"}, a.Assigned(FieldTitulo))
	_, ok := a["autor"]
	assert.False(t, ok)
}

func TestGroup(t *testing.T) {
	g := Group([]Property{
		{Name: "a", Type: TypeText},
		{Name: "b", Type: TypeNumeric},
		{Name: "c", Type: "weird"},
	})
	assert.Equal(t, []string{"a", "c"}, g[TypeText])
	assert.Equal(t, []string{"b"}, g[TypeNumeric])
	assert.Empty(t, g[TypeBoolean])
}
