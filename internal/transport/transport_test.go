package transport

import (
	"compress/gzip"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/directquery/internal/guard"
	"github.com/yairfalse/directquery/pkg/datasource"
)

func build(t *testing.T, props map[string]string, g *guard.Guard) *http.Client {
	t.Helper()
	c, err := Build(context.Background(), props, Options{
		Prefix: "prometheus",
		Pool:   NewPool(DirectNetwork(), g),
	})
	require.NoError(t, err)
	return c
}

func get(t *testing.T, c *http.Client, target string) (*http.Response, string) {
	t.Helper()
	resp, err := c.Get(target)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestParseAuth(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]string
		want  AuthType
	}{
		{"none", map[string]string{}, AuthNone},
		{"basic", map[string]string{"prometheus.auth.type": "basicauth"}, AuthBasic},
		{"basic mixed case", map[string]string{"prometheus.auth.type": "BasicAuth"}, AuthBasic},
		{"sigv4", map[string]string{"prometheus.auth.type": "awssigv4auth"}, AuthSigV4},
		{"other prefix ignored", map[string]string{"alertmanager.auth.type": "basicauth"}, AuthNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth, err := ParseAuth(tt.props, "prometheus")
			require.NoError(t, err)
			assert.Equal(t, tt.want, auth.Type)
		})
	}
}

func TestParseAuth_SigV4Service(t *testing.T) {
	auth, err := ParseAuth(map[string]string{
		"prometheus.auth.type":       "awssigv4auth",
		"prometheus.auth.region":     "us-east-1",
		"prometheus.auth.access_key": "AKID",
		"prometheus.auth.secret_key": "SECRET",
	}, "prometheus")
	require.NoError(t, err)
	assert.Equal(t, SigV4Service, auth.Service)
	assert.Equal(t, "us-east-1", auth.Region)
}

func TestBuild_UnsupportedAuthType(t *testing.T) {
	for _, authType := range []string{"oauth2", "kerberos", "bearer"} {
		t.Run(authType, func(t *testing.T) {
			_, err := Build(context.Background(), map[string]string{
				"prometheus.auth.type": authType,
			}, Options{Prefix: "prometheus", Pool: NewPool(DirectNetwork(), nil)})
			require.Error(t, err)
			assert.ErrorIs(t, err, datasource.ErrConfiguration)
			assert.Equal(t, "auth type "+authType+" is not supported", err.Error())
		})
	}
}

func TestBuild_RequiresNetwork(t *testing.T) {
	_, err := Build(context.Background(), nil, Options{Prefix: "prometheus"})
	require.Error(t, err)

	_, err = Build(context.Background(), nil, Options{Prefix: "prometheus", Pool: NewPool(nil, nil)})
	require.Error(t, err)
}

func TestBuild_ClientsShareConnections(t *testing.T) {
	var (
		mu    sync.Mutex
		conns int
	)
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			mu.Lock()
			conns++
			mu.Unlock()
		}
	}
	srv.Start()
	defer srv.Close()

	pool := NewPool(DirectNetwork(), nil)
	defer pool.CloseIdleConnections()

	props := map[string]string{
		"prometheus.auth.type":     "basicauth",
		"prometheus.auth.username": "admin",
		"prometheus.auth.password": "s3cret",
	}
	for i := 0; i < 20; i++ {
		c, err := Build(context.Background(), props, Options{Prefix: "prometheus", Pool: pool})
		require.NoError(t, err)
		resp, body := get(t, c, srv.URL)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", body)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, conns)
}

func TestBuild_Timeouts(t *testing.T) {
	c := build(t, nil, nil)
	assert.Equal(t, CallTimeout, c.Timeout)
	assert.NotNil(t, c.CheckRedirect)
}

func TestBuild_BasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	c := build(t, map[string]string{
		"prometheus.auth.type":     "basicauth",
		"prometheus.auth.username": "admin",
		"prometheus.auth.password": "s3cret",
	}, nil)

	resp, body := get(t, c, srv.URL)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)
}

func TestBuild_NoAuthSendsNoCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	resp, _ := get(t, build(t, nil, nil), srv.URL)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBuild_SigV4(t *testing.T) {
	var authz, amzDate string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz = r.Header.Get("Authorization")
		amzDate = r.Header.Get("X-Amz-Date")
	}))
	defer srv.Close()

	c := build(t, map[string]string{
		"prometheus.auth.type":       "awssigv4auth",
		"prometheus.auth.region":     "us-east-1",
		"prometheus.auth.access_key": "AKIDEXAMPLE",
		"prometheus.auth.secret_key": "wJalrXUtnFEMI",
	}, nil)

	resp, _ := get(t, c, srv.URL+"/api/v1/query?query=up")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(authz, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/"), authz)
	assert.Contains(t, authz, "/us-east-1/aps/aws4_request")
	assert.NotEmpty(t, amzDate)
}

func TestBuild_SigV4Misconfigured(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]string
	}{
		{"missing region", map[string]string{
			"prometheus.auth.type":       "awssigv4auth",
			"prometheus.auth.access_key": "AKID",
			"prometheus.auth.secret_key": "SECRET",
		}},
		{"missing secret key", map[string]string{
			"prometheus.auth.type":       "awssigv4auth",
			"prometheus.auth.region":     "us-east-1",
			"prometheus.auth.access_key": "AKID",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(context.Background(), tt.props, Options{Prefix: "prometheus", Pool: NewPool(DirectNetwork(), nil)})
			require.Error(t, err)
			assert.ErrorIs(t, err, datasource.ErrConfiguration)
		})
	}
}

func TestBuild_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/elsewhere" {
			t.Error("redirect was followed")
		}
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	resp, _ := get(t, build(t, nil, nil), srv.URL)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestBuild_DecompressesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			_, _ = io.WriteString(w, `{"status":"success"}`)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = io.WriteString(gz, `{"status":"success"}`)
		_ = gz.Close()
	}))
	defer srv.Close()

	_, body := get(t, build(t, nil, nil), srv.URL)
	assert.Equal(t, `{"status":"success"}`, body)
}

func TestBuild_GuardRefusesURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request reached a deny-listed server")
	}))
	defer srv.Close()

	g, err := guard.New(context.Background(), []string{"127.0.0.0/8"})
	require.NoError(t, err)

	_, err = build(t, nil, g).Get(srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, guard.ErrDisallowedHost)
}

// loopbackNetwork resolves every address to one listener, standing in for a
// hostname whose DNS answer lands in a deny-listed range.
type loopbackNetwork struct {
	addr string
}

func (n loopbackNetwork) DialContext(ctx context.Context, network, _ string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, n.addr)
}

func TestBuild_GuardRefusesResolvedAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request reached a deny-listed address")
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	g, err := guard.New(context.Background(), []string{"127.0.0.0/8"})
	require.NoError(t, err)

	c, err := Build(context.Background(), nil, Options{
		Prefix: "prometheus",
		Pool:   NewPool(loopbackNetwork{addr: u.Host}, g),
	})
	require.NoError(t, err)

	_, err = c.Get("http://prometheus.example.com:" + u.Port() + "/api/v1/query")
	require.Error(t, err)
	assert.ErrorIs(t, err, guard.ErrDisallowedHost)
}

func TestBuild_InjectedNetworkIsUsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.Host)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	c, err := Build(context.Background(), nil, Options{
		Prefix: "prometheus",
		Pool:   NewPool(loopbackNetwork{addr: u.Host}, nil),
	})
	require.NoError(t, err)

	resp, body := get(t, c, "http://prometheus.example.com/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "prometheus.example.com", body)
}
