package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/":                             "/",
		"/metrics":                      "/metrics",
		"/healthz":                      "/healthz",
		"/acme":                         "/:organization",
		"/acme/general":                 "/:organization/:team",
		"/acme/general/q3-report":       "/:organization/:team/:report",
		"/acme/general/q3-report?x=1":   "/:organization/:team/:report",
		"/acme/general/q3-report/extra": "/:other",
		"/v1/session":                   "/v1/session",
		"/v1/permissions/report.edit":   "/v1/permissions/:capability",
		"/v1/logout":                    "/v1/logout",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
