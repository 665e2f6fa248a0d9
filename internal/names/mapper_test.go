package names

import (
	"sync"
	"testing"
)

func TestMangle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "System.Int32", "System_Int32"},
		{"nested type", "System.TimeZoneInfo/AdjustmentRule", "System_TimeZoneInfo_AdjustmentRule"},
		{"generic arity", "System.Collections.Generic.List`1", "System_Collections_Generic_List_1"},
		{"generic instance", "List`1<System.String>", "List_1_System_String"},
		{"two args", "Dictionary`2<System.String,System.Int32>", "Dictionary_2_System_String_System_Int32"},
		{"array", "System.Int32[]", "System_Int32_Arr"},
		{"byref", "System.Int32&", "System_Int32_Ref"},
		{"pointer", "System.Char*", "System_Char_Ptr"},
		{"already valid", "Already_Valid_Name", "Already_Valid_Name"},
		{"leading digit", "1Type", "_1Type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Mangle(tt.input); got != tt.want {
				t.Errorf("Mangle(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMangleIdempotent(t *testing.T) {
	inputs := []string{
		"System.Collections.Generic.Dictionary`2<System.String,System.Int32>",
		"System.Int32",
		"Simple_Name",
	}
	for _, in := range inputs {
		once := Mangle(in)
		if twice := Mangle(once); twice != once {
			t.Errorf("Mangle not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestMangleMethod(t *testing.T) {
	tests := []struct {
		declaring string
		method    string
		want      string
	}{
		{"My.App.Program", "Main", "My_App_Program_Main"},
		{"My.App.Program", ".ctor", "My_App_Program_ctor"},
		{"My.App.Program", ".cctor", "My_App_Program_cctor"},
	}
	for _, tt := range tests {
		if got := MangleMethod(tt.declaring, tt.method); got != tt.want {
			t.Errorf("MangleMethod(%q, %q) = %q, want %q", tt.declaring, tt.method, got, tt.want)
		}
	}
}

func TestCppTypeFor(t *testing.T) {
	m := New()
	tests := []struct {
		il   string
		want string
	}{
		{"System.Int32", "int32_t"},
		{"System.Char", "char16_t"},
		{"System.Boolean", "bool"},
		{"System.Void", "void"},
		{"System.String", "System_String*"},
		{"System.Object", "System_Object*"},
		{"System.Int32&", "int32_t*"},
		{"System.Char*", "char16_t*"},
		{"System.Char**", "char16_t**"},
		{"System.Int32[]", "System_Array*"},
		{"My.App.Widget", "My_App_Widget*"},
	}
	for _, tt := range tests {
		if got := m.CppTypeFor(tt.il); got != tt.want {
			t.Errorf("CppTypeFor(%q) = %q, want %q", tt.il, got, tt.want)
		}
	}
}

func TestCppTypeForValueType(t *testing.T) {
	m := New()
	m.RegisterValueType("My.App.Point")
	if got := m.CppTypeFor("My.App.Point"); got != "My_App_Point" {
		t.Errorf("value type maps by value, got %q", got)
	}
}

func TestValueTypeGenericInstanceInherits(t *testing.T) {
	m := New()
	m.RegisterValueType("System.Span`1")
	if !m.IsValueType("System.Span`1<System.Byte>") {
		t.Error("generic instance should inherit open type's classification")
	}
}

func TestExternalEnum(t *testing.T) {
	m := New()
	m.RegisterExternalEnum("My_App_Color", "uint8_t")
	if got := m.CppTypeFor("My.App.Color"); got != "uint8_t" {
		t.Errorf("external enum maps to underlying type, got %q", got)
	}
	if !m.IsValueType("My_App_Color") {
		t.Error("external enum should be a value type")
	}
}

func TestValueTypeSetConcurrency(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.RegisterValueType("My.App.Point")
		}()
		go func() {
			defer wg.Done()
			_ = m.IsValueType("My.App.Point")
		}()
	}
	wg.Wait()
}

func TestExceptionAlias(t *testing.T) {
	if got := ExceptionAlias("System.InvalidOperationException"); got != "rt_InvalidOperationException" {
		t.Errorf("got %q", got)
	}
	if got := ExceptionAlias("My.App.Widget"); got != "" {
		t.Errorf("non-exception should return empty, got %q", got)
	}
}

func TestPrimitiveSize(t *testing.T) {
	tests := []struct {
		cpp  string
		want int
	}{
		{"bool", 1}, {"int8_t", 1}, {"char16_t", 2}, {"int32_t", 4},
		{"int64_t", 8}, {"double", 8}, {"intptr_t", 8}, {"My_Struct", 0},
	}
	for _, tt := range tests {
		if got := PrimitiveSize(tt.cpp); got != tt.want {
			t.Errorf("PrimitiveSize(%q) = %d, want %d", tt.cpp, got, tt.want)
		}
	}
}
