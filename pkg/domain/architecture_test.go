package domain

import (
	"testing"

	"synister/testutil"
)

func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "record types must not depend on storage or pipeline packages")
}
