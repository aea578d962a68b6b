package claims

import (
	"context"
	"testing"
)

func TestClaims(t *testing.T) {
	ctx := context.Background()

	if IsAdmin(ctx) {
		t.Fatal("empty context must not be admin")
	}
	if _, err := Get(ctx); err == nil {
		t.Fatal("expected an error for missing claims")
	}

	ctx = Set(ctx, Claims{Token: "tok", Role: RoleAdmin})

	c, err := Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c.Token != "tok" || !IsAdmin(ctx) {
		t.Fatalf("unexpected claims %+v", c)
	}
}
