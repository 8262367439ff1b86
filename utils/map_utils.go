package utils

/**
 * MergeInto copies every key of src into dst, overwriting what dst already
 * holds. The caller decides the precedence by the order of calls.
 */
func MergeInto[K comparable, V any](dst, src map[K]V) map[K]V {
	if dst == nil {
		dst = make(map[K]V, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func UniqueSlice[K comparable](a []K) []K {
	m := make(map[K]bool)
	for i := 0; i < len(a); {
		v := a[i]
		if !m[v] {
			m[v] = true
			i++
			continue
		}
		a = append(a[:i], a[i+1:]...)
	}
	return a
}

func Contains[K comparable](a []K, v K) bool {
	for _, item := range a {
		if item == v {
			return true
		}
	}
	return false
}
