package tablename

import (
	"strings"
	"testing"
)

func TestDatabase_PlainID(t *testing.T) {
	tests := []struct {
		prefix   string
		database string
		expected string
	}{
		{"", "FamilyDatabase", "FamilyDatabase"},
		{"dev", "FamilyDatabase", "dev.FamilyDatabase"},
		{"", "db_1-a", "db_1-a"},
	}

	for _, tt := range tests {
		result := Database(tt.prefix, tt.database)
		if result != tt.expected {
			t.Errorf("Database(%q, %q) = %q, want %q", tt.prefix, tt.database, result, tt.expected)
		}
	}
}

func TestContainer_PlainID(t *testing.T) {
	result := Container("", "FamilyDatabase", "FamilyContainer")
	if result != "FamilyDatabase.FamilyContainer" {
		t.Errorf("expected 'FamilyDatabase.FamilyContainer', got %q", result)
	}

	result = Container("dev", "FamilyDatabase", "FamilyContainer")
	if result != "dev.FamilyDatabase.FamilyContainer" {
		t.Errorf("expected 'dev.FamilyDatabase.FamilyContainer', got %q", result)
	}
}

func TestContainer_Deterministic(t *testing.T) {
	first := Container("", "my db", "my/container")
	for i := 0; i < 100; i++ {
		result := Container("", "my db", "my/container")
		if result != first {
			t.Errorf("expected deterministic result %q, got %q on iteration %d", first, result, i)
		}
	}
}

func TestPhysical_SanitizedIDsGetDigest(t *testing.T) {
	result := Database("", "family db")
	if !strings.HasPrefix(result, "family_db-") {
		t.Errorf("expected prefix 'family_db-', got %q", result)
	}

	suffix := result[len("family_db-"):]
	if len(suffix) != digestLen {
		t.Errorf("expected %d-character digest, got %q", digestLen, suffix)
	}
	for _, c := range suffix {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Errorf("expected hex character, got %c", c)
		}
	}
}

func TestPhysical_NoCollisionAfterSanitize(t *testing.T) {
	// Both ids sanitize to "a_b".
	a := Database("", "a b")
	b := Database("", "a/b")
	if a == b {
		t.Errorf("expected distinct names, both were %q", a)
	}
}

func TestPhysical_DottedDatabaseDoesNotCollideWithContainer(t *testing.T) {
	db := Database("", "a.b")
	container := Container("", "a", "b")
	if db == container {
		t.Errorf("expected distinct names, both were %q", db)
	}
	if container != "a.b" {
		t.Errorf("expected container 'a.b', got %q", container)
	}
}

func TestPhysical_CatalogAndContainerDistinct(t *testing.T) {
	names := map[string]string{}
	inputs := [][]string{
		{"FamilyDatabase"},
		{"FamilyDatabase", "FamilyContainer"},
		{"FamilyDatabase.FamilyContainer"},
		{"FamilyDatabase", "Family.Container"},
	}
	for _, in := range inputs {
		name := physical("", in...)
		key := strings.Join(in, "|")
		if existing, ok := names[name]; ok {
			t.Errorf("collision: %q and %q both produce %q", existing, key, name)
		}
		names[name] = key
	}
}

func TestPhysical_LongIDsAreTruncated(t *testing.T) {
	long := strings.Repeat("a", 400)
	result := Container("", long, "c")
	if len(result) > maxLen {
		t.Errorf("expected at most %d bytes, got %d", maxLen, len(result))
	}

	other := Container("", long, "d")
	if result == other {
		t.Error("expected distinct names for distinct long ids")
	}
}

func TestPhysical_ShortIDsDoNotCollide(t *testing.T) {
	tests := []struct {
		short string
		other string
	}{
		{"a", "a__"},
		{"ab", "ab_"},
	}

	for _, tt := range tests {
		t.Run(tt.short, func(t *testing.T) {
			short := Database("", tt.short)
			other := Database("", tt.other)
			if short == other {
				t.Errorf("Database(%q) and Database(%q) both map to %q", tt.short, tt.other, short)
			}
			if len(short) < minLen {
				t.Errorf("expected at least %d bytes, got %q", minLen, short)
			}
			if !strings.HasPrefix(short, tt.short+"-") {
				t.Errorf("expected %q to carry a digest suffix, got %q", tt.short, short)
			}
		})
	}
}

func TestPhysical_Unicode(t *testing.T) {
	result := Database("", "家族")
	if !strings.HasPrefix(result, "__-") {
		t.Errorf("expected sanitized prefix '__-', got %q", result)
	}
}

// --- Digest Tests ---

func TestDigest_OrderMatters(t *testing.T) {
	if Digest("a", "b") == Digest("b", "a") {
		t.Error("swapping ids should produce different digests")
	}
}

func TestDigest_SimilarConcatenations(t *testing.T) {
	if Digest("ab", "c") == Digest("a", "bc") {
		t.Error("similar concatenations should produce different digests")
	}
}

func BenchmarkContainer(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Container("prod", "FamilyDatabase", "FamilyContainer")
	}
}
