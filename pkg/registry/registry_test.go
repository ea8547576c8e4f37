package registry

import "testing"

type testItem struct {
	ID   string
	Name string
}

func TestBaseRegistryRegister(t *testing.T) {
	r := NewBaseRegistry[testItem]()

	tests := []struct {
		name    string
		item    testItem
		wantErr bool
	}{
		{name: "register valid item", item: testItem{ID: "a", Name: "Item A"}, wantErr: false},
		{name: "register item with empty id", item: testItem{ID: "", Name: "No ID"}, wantErr: true},
		{name: "register duplicate id", item: testItem{ID: "a", Name: "Item A again"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.item.ID, tt.item)
			if (err != nil) != tt.wantErr {
				t.Errorf("Register() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBaseRegistryGetListRemove(t *testing.T) {
	r := NewBaseRegistry[testItem]()
	if err := r.Register("a", testItem{ID: "a", Name: "Item A"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	item, ok := r.Get("a")
	if !ok || item.Name != "Item A" {
		t.Fatalf("Get() = %+v, %v", item, ok)
	}

	if _, ok := r.Get("missing"); ok {
		t.Fatalf("Get() for missing item should return ok=false")
	}

	if got := r.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}

	if err := r.Remove("a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := r.Remove("a"); err == nil {
		t.Fatal("Remove() of already-removed item should error")
	}
	if got := r.Count(); got != 0 {
		t.Fatalf("Count() after Remove = %d, want 0", got)
	}
}

func TestBaseRegistryClear(t *testing.T) {
	r := NewBaseRegistry[testItem]()
	r.Register("a", testItem{ID: "a"})
	r.Register("b", testItem{ID: "b"})
	r.Clear()
	if got := r.Count(); got != 0 {
		t.Fatalf("Count() after Clear = %d, want 0", got)
	}
}
