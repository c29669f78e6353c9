package postgres

import (
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/triarb/internal/domain"
)

var namedParam = regexp.MustCompile(`@([a-z_]+)`)

func assertBound(t *testing.T, query string, args pgx.NamedArgs) {
	t.Helper()
	for _, m := range namedParam.FindAllStringSubmatch(query, -1) {
		if _, ok := args[m[1]]; !ok {
			t.Errorf("parameter @%s is not bound", m[1])
		}
	}
}

func TestListArgsUnsetFiltersBindNull(t *testing.T) {
	args := listArgs(domain.ListOpts{Offset: -3})
	if args["limit"] != nil {
		t.Errorf("limit = %v, want NULL", args["limit"])
	}
	if args["offset"] != 0 {
		t.Errorf("offset = %v, want 0", args["offset"])
	}
	if since, _ := args["since"].(*time.Time); since != nil {
		t.Errorf("since = %v, want nil", since)
	}
	assertBound(t, recentQuery, args)
}

func TestAuditArgs(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	args := auditArgs(domain.AuditLeaseLost, domain.ListOpts{Limit: 20, Offset: 40, Since: &since})
	if args["event"] != domain.AuditLeaseLost || args["limit"] != 20 || args["offset"] != 40 {
		t.Fatalf("args = %v", args)
	}
	if got, _ := args["since"].(*time.Time); got == nil || !got.Equal(since) {
		t.Fatalf("since = %v", args["since"])
	}
	assertBound(t, auditListQuery, args)

	if all := auditArgs("", domain.ListOpts{}); all["event"] != nil {
		t.Fatalf("empty event bound as %v", all["event"])
	}
}
