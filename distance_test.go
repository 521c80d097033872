package hybridsearch

import (
	"math"
	"testing"
)

const epsilon = 1e-6

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < epsilon
}

func TestNewDistance(t *testing.T) {
	tests := []struct {
		name         string
		distanceKind DistanceKind
		expectError  bool
		expectedErr  error
	}{
		{name: "l2 distance", distanceKind: DistanceL2},
		{name: "cosine distance", distanceKind: DistanceCosine},
		{name: "dot distance", distanceKind: DistanceDot},
		{name: "l1 distance", distanceKind: DistanceL1},
		{
			name:         "unknown distance",
			distanceKind: "unknown",
			expectError:  true,
			expectedErr:  ErrUnknownDistanceKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dist, err := NewDistance(tt.distanceKind)
			if tt.expectError {
				if err == nil {
					t.Errorf("NewDistance(%s) expected error, got nil", tt.distanceKind)
				}
				if tt.expectedErr != nil && err != tt.expectedErr {
					t.Errorf("NewDistance(%s) expected error %v, got %v", tt.distanceKind, tt.expectedErr, err)
				}
			} else {
				if err != nil {
					t.Errorf("NewDistance(%s) unexpected error: %v", tt.distanceKind, err)
				}
				if dist == nil {
					t.Errorf("NewDistance(%s) returned nil distance", tt.distanceKind)
				}
			}
		})
	}
}

func TestSingletonInstances(t *testing.T) {
	dist1, _ := NewDistance(DistanceL2)
	dist2, _ := NewDistance(DistanceL2)
	if dist1 != dist2 {
		t.Error("NewDistance should return the same singleton instance for l2")
	}

	distCosine1, _ := NewDistance(DistanceCosine)
	distCosine2, _ := NewDistance(DistanceCosine)
	if distCosine1 != distCosine2 {
		t.Error("NewDistance should return the same singleton instance for cosine")
	}

	distDot1, _ := NewDistance(DistanceDot)
	distDot2, _ := NewDistance(DistanceDot)
	if distDot1 != distDot2 {
		t.Error("NewDistance should return the same singleton instance for dot")
	}

	distL1_1, _ := NewDistance(DistanceL1)
	distL1_2, _ := NewDistance(DistanceL1)
	if distL1_1 != distL1_2 {
		t.Error("NewDistance should return the same singleton instance for l1")
	}
}

func TestL2Distance(t *testing.T) {
	dist, err := NewDistance(DistanceL2)
	if err != nil {
		t.Fatalf("Failed to create l2 distance: %v", err)
	}

	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float32
	}{
		{name: "identical vectors", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, expected: 0},
		{name: "simple distance", a: []float32{0, 0, 0}, b: []float32{3, 4, 0}, expected: 5},
		{name: "negative values", a: []float32{-1, -2, -3}, b: []float32{1, 2, 3}, expected: float32(math.Sqrt(56))},
		{name: "single dimension", a: []float32{5}, b: []float32{2}, expected: 3},
		{name: "high dimensional", a: []float32{1, 2, 3, 4, 5}, b: []float32{5, 4, 3, 2, 1}, expected: float32(math.Sqrt(40))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := dist.Calculate(tt.a, tt.b)
			if !almostEqual(result, tt.expected) {
				t.Errorf("l2.Calculate(%v, %v) = %v, want %v", tt.a, tt.b, result, tt.expected)
			}
		})
	}
}

func TestCosineDistance(t *testing.T) {
	dist, err := NewDistance(DistanceCosine)
	if err != nil {
		t.Fatalf("Failed to create cosine distance: %v", err)
	}

	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float32
	}{
		{name: "identical unit vectors", a: []float32{1, 0, 0}, b: []float32{1, 0, 0}, expected: 0},
		{name: "orthogonal vectors", a: []float32{1, 0, 0}, b: []float32{0, 1, 0}, expected: 1},
		{name: "opposite vectors", a: []float32{1, 0, 0}, b: []float32{-1, 0, 0}, expected: 2},
		{
			name:     "45 degree angle",
			a:        []float32{1, 0},
			b:        Normalize([]float32{1, 1}),
			expected: 1 - float32(math.Sqrt(2)/2),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := dist.Calculate(tt.a, tt.b)
			if !almostEqual(result, tt.expected) {
				t.Errorf("cosine.Calculate(%v, %v) = %v, want %v", tt.a, tt.b, result, tt.expected)
			}
		})
	}
}

func TestCosinePreprocess(t *testing.T) {
	dist, _ := NewDistance(DistanceCosine)

	v := []float32{3, 4, 0}
	normalized, err := dist.Preprocess(v)
	if err != nil {
		t.Fatalf("Preprocess returned error: %v", err)
	}
	if !almostEqual(Norm(normalized), 1) {
		t.Errorf("Preprocess(%v) = %v, want unit norm", v, normalized)
	}
	// original must be untouched
	if v[0] != 3 || v[1] != 4 {
		t.Errorf("Preprocess mutated its input: %v", v)
	}

	inPlace := []float32{3, 4, 0}
	if err := dist.PreprocessInPlace(inPlace); err != nil {
		t.Fatalf("PreprocessInPlace returned error: %v", err)
	}
	if !almostEqual(Norm(inPlace), 1) {
		t.Errorf("PreprocessInPlace(%v) = %v, want unit norm", v, inPlace)
	}

	if _, err := dist.Preprocess([]float32{0, 0, 0}); err != ErrZeroVector {
		t.Errorf("Preprocess(zero vector) error = %v, want ErrZeroVector", err)
	}
}

func TestDotDistance(t *testing.T) {
	dist, err := NewDistance(DistanceDot)
	if err != nil {
		t.Fatalf("Failed to create dot distance: %v", err)
	}

	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float32
	}{
		{name: "positive dot product", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, expected: -14},
		{name: "negative dot product", a: []float32{1, 2, 3}, b: []float32{-1, -2, -3}, expected: 14},
		{name: "orthogonal vectors", a: []float32{1, 0, 0}, b: []float32{0, 1, 0}, expected: 0},
		{name: "zero vector", a: []float32{0, 0, 0}, b: []float32{1, 2, 3}, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := dist.Calculate(tt.a, tt.b)
			if !almostEqual(result, tt.expected) {
				t.Errorf("dot.Calculate(%v, %v) = %v, want %v", tt.a, tt.b, result, tt.expected)
			}
		})
	}
}

func TestL1Distance(t *testing.T) {
	dist, err := NewDistance(DistanceL1)
	if err != nil {
		t.Fatalf("Failed to create l1 distance: %v", err)
	}

	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float32
	}{
		{name: "identical vectors", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, expected: 0},
		{name: "simple distance", a: []float32{0, 0, 0}, b: []float32{3, 4, 0}, expected: 7},
		{name: "negative values", a: []float32{-1, -2, -3}, b: []float32{1, 2, 3}, expected: 12},
		{name: "single dimension", a: []float32{5}, b: []float32{2}, expected: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := dist.Calculate(tt.a, tt.b)
			if !almostEqual(result, tt.expected) {
				t.Errorf("l1.Calculate(%v, %v) = %v, want %v", tt.a, tt.b, result, tt.expected)
			}
		})
	}
}

func TestCalculateBatchConsistency(t *testing.T) {
	distanceTypes := []DistanceKind{DistanceL2, DistanceCosine, DistanceDot, DistanceL1}

	target := Normalize([]float32{1, 2, 3, 4})
	queries := [][]float32{
		Normalize([]float32{5, 6, 7, 8}),
		Normalize([]float32{-1, -2, -3, -4}),
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{4, 3, 2, 1},
	}

	for _, distType := range distanceTypes {
		t.Run(string(distType), func(t *testing.T) {
			dist, err := NewDistance(distType)
			if err != nil {
				t.Fatalf("Failed to create %s distance: %v", distType, err)
			}

			batchResults := dist.CalculateBatch(queries, target)
			for i, query := range queries {
				individualResult := dist.Calculate(query, target)
				if !almostEqual(batchResults[i], individualResult) {
					t.Errorf("%s: CalculateBatch[%d] = %v, but Calculate = %v",
						distType, i, batchResults[i], individualResult)
				}
			}
		})
	}
}

func TestCalculateBatchEmpty(t *testing.T) {
	dist, _ := NewDistance(DistanceL2)
	target := []float32{1, 2, 3}
	queries := [][]float32{}

	results := dist.CalculateBatch(queries, target)
	if len(results) != 0 {
		t.Errorf("CalculateBatch with empty queries returned %d results, want 0", len(results))
	}
}

func TestNorm(t *testing.T) {
	tests := []struct {
		name     string
		v        []float32
		expected float32
	}{
		{name: "unit vector", v: []float32{1, 0, 0}, expected: 1},
		{name: "3-4-5 triangle", v: []float32{3, 4, 0}, expected: 5},
		{name: "zero vector", v: []float32{0, 0, 0}, expected: 0},
		{name: "negative values", v: []float32{-3, 4}, expected: 5},
		{name: "single element", v: []float32{5}, expected: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Norm(tt.v)
			if !almostEqual(result, tt.expected) {
				t.Errorf("Norm(%v) = %v, want %v", tt.v, result, tt.expected)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	result := Normalize([]float32{3, 4, 0})
	if !almostEqual(Norm(result), 1) {
		t.Errorf("Normalize(%v) = %v, want unit norm", []float32{3, 4, 0}, result)
	}

	zero := Normalize([]float32{0, 0, 0})
	for _, x := range zero {
		if x != 0 {
			t.Errorf("Normalize(zero vector) = %v, want all zeros", zero)
		}
	}
}

func BenchmarkL2Distance(b *testing.B) {
	dist, _ := NewDistance(DistanceL2)
	v1 := make([]float32, 128)
	v2 := make([]float32, 128)
	for i := range v1 {
		v1[i] = float32(i)
		v2[i] = float32(i + 1)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dist.Calculate(v1, v2)
	}
}

func BenchmarkCosineDistance(b *testing.B) {
	dist, _ := NewDistance(DistanceCosine)
	v1 := Normalize(makeRamp(128, 0))
	v2 := Normalize(makeRamp(128, 1))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dist.Calculate(v1, v2)
	}
}

func BenchmarkDotDistance(b *testing.B) {
	dist, _ := NewDistance(DistanceDot)
	v1 := makeRamp(128, 0)
	v2 := makeRamp(128, 1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dist.Calculate(v1, v2)
	}
}

func BenchmarkL1Distance(b *testing.B) {
	dist, _ := NewDistance(DistanceL1)
	v1 := makeRamp(128, 0)
	v2 := makeRamp(128, 1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dist.Calculate(v1, v2)
	}
}

func BenchmarkCalculateBatch(b *testing.B) {
	dist, _ := NewDistance(DistanceL2)
	target := makeRamp(128, 0)
	queries := make([][]float32, 100)
	for i := range queries {
		queries[i] = makeRamp(128, i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dist.CalculateBatch(queries, target)
	}
}

func makeRamp(dim, offset int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(i + offset)
	}
	return v
}
