package apiset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticPresentAndResolve(t *testing.T) {
	s := NewStatic(map[string]string{
		"API-MS-Win-Core-Synch-l1-2-0": "kernelbase",
	})

	assert.True(t, s.Present("anything.exe", "api-ms-win-core-synch-l1-2-0"))
	assert.Equal(t, "kernelbase", s.Resolve("anything.exe", "api-ms-win-core-synch-l1-2-0"))
	assert.False(t, s.Present("anything.exe", "api-ms-win-core-file-l1-1-0"))
}

func TestEmptySchemaNeverRedirects(t *testing.T) {
	var s Schema = Empty{}
	assert.False(t, s.Present("a.exe", "api-ms-win-core-file-l1-1-0"))
	assert.Equal(t, "", s.Resolve("a.exe", "api-ms-win-core-file-l1-1-0"))
}

func TestRedirectStripsAndReappliesExtension(t *testing.T) {
	schema := NewStatic(map[string]string{
		"api-ms-win-core-file-l1-1-0": "kernel32",
	})

	got := Redirect(schema, "consumer.exe", "API-MS-Win-Core-File-L1-1-0.dll")
	assert.Equal(t, "kernel32.dll", got)
}

func TestRedirectUnknownNameUnchanged(t *testing.T) {
	schema := NewStatic(map[string]string{})
	got := Redirect(schema, "consumer.exe", "ntdll.dll")
	assert.Equal(t, "ntdll.dll", got)
}

func TestRedirectNilSchemaUnchanged(t *testing.T) {
	got := Redirect(nil, "consumer.exe", "ntdll.dll")
	assert.Equal(t, "ntdll.dll", got)
}

func TestRedirectEmptyNameUnchanged(t *testing.T) {
	schema := NewStatic(map[string]string{"x": "y"})
	got := Redirect(schema, "consumer.exe", "")
	assert.Equal(t, "", got)
}
