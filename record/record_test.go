package record

import "testing"

func TestIsTombstone(t *testing.T) {
	tests := []struct {
		name  string
		value []byte
		want  bool
	}{
		{"exact tombstone", Tombstone, true},
		{"empty value", []byte{}, false},
		{"nil value", nil, false},
		{"ordinary value", []byte("hello"), false},
		{"same length, different bytes", make([]byte, len(Tombstone)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTombstone(tt.value); got != tt.want {
				t.Fatalf("IsTombstone(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestOperationString(t *testing.T) {
	if OperationPut.String() != "PUT" {
		t.Fatalf("OperationPut.String() = %q", OperationPut.String())
	}
	if OperationDelete.String() != "DELETE" {
		t.Fatalf("OperationDelete.String() = %q", OperationDelete.String())
	}
}
