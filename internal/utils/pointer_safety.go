package utils

func Value[T any](v *T) T {
	if v == nil {
		return *new(T)
	}
	return *v
}

func Ptr[T any](v T) *T {
	return &v
}

// NilIfEmpty returns nil for the zero string so optional fields round trip as null.
func NilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
