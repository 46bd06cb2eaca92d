package catalog

import "testing"

func TestValidateNamespaceAccepts(t *testing.T) {
	if err := ValidateNamespace("mydb.mycoll"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateNamespaceRejectsEmpty(t *testing.T) {
	if err := ValidateNamespace(""); err == nil {
		t.Fatalf("expected error for empty namespace")
	}
}

func TestValidateNamespaceRejectsMissingDot(t *testing.T) {
	if err := ValidateNamespace("nodothere"); err == nil {
		t.Fatalf("expected error for namespace without a dot")
	}
}

func TestValidateNamespaceRejectsPathSeparator(t *testing.T) {
	if err := ValidateNamespace("db./etc"); err == nil {
		t.Fatalf("expected error for namespace with path separator")
	}
}

func TestDBNameAndCollectionName(t *testing.T) {
	if DBName("mydb.mycoll") != "mydb" {
		t.Fatalf("unexpected db name")
	}
	if CollectionName("mydb.mycoll") != "mycoll" {
		t.Fatalf("unexpected collection name")
	}
	if CollectionName("mydb.sub.coll") != "sub.coll" {
		t.Fatalf("expected collection name to include remaining dots, got %q", CollectionName("mydb.sub.coll"))
	}
}
