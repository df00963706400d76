package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                  "/",
		"/metrics":                          "/metrics",
		"/api/cohort-status":                "/api/cohort-status",
		"/api/cohort-status?cluster_id=c1":  "/api/cohort-status",
		"/api/admin/clusters":               "/api/admin/clusters",
		"/api/admin/clusters/c1":            "/api/admin/clusters/:id",
		"/api/admin/clusters/c1/extra":      "/api/admin/clusters/c1/extra",
		"/api/download-contacts?file_name=": "/api/download-contacts",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
