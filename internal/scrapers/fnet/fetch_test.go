package fnet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fnet-dataget/internal/components/chrono"
	"fnet-dataget/internal/components/telemetry"

	_ "embed"

	"github.com/stretchr/testify/require"
)

//go:embed testdata/status_busy.html
var statusBusyPage string

//go:embed testdata/status_size_limit.html
var statusSizeLimitPage string

//go:embed testdata/status_ready.html
var statusReadyPage string

//go:embed testdata/download_missing.html
var downloadMissingPage string

const (
	testUsername = "seismo"
	testPassword = "hunter2"
	archiveBytes = "PKarchive-bytes"
)

// fakeFnet mimics the three F-net endpoints and counts how often each is hit.
type fakeFnet struct {
	mutex sync.Mutex

	submitStatus   int
	submitBody     func(n int) string
	statusBody     string
	downloadStatus int
	downloadBody   string

	submits   int
	statuses  int
	downloads int
	forms     []url.Values
	handles   []string
	hosts     []string
	badAuth   int
}

func newFakeFnet() *fakeFnet {
	return &fakeFnet{
		submitStatus: http.StatusOK,
		submitBody: func(int) string {
			return submitOkPage
		},
		statusBody:     statusReadyPage,
		downloadStatus: http.StatusOK,
		downloadBody:   archiveBytes,
	}
}

func (f *fakeFnet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.hosts = append(f.hosts, r.URL.Host)
	user, pass, ok := r.BasicAuth()
	if !ok || user != testUsername || pass != testPassword {
		f.badAuth++
	}

	switch {
	case r.URL.Path == "/auth/dataget/cgi-bin/dataget.cgi" && r.Method == http.MethodPost:
		f.submits++
		err := r.ParseForm()
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.forms = append(f.forms, r.PostForm)
		w.WriteHeader(f.submitStatus)
		fmt.Fprint(w, f.submitBody(f.submits))
	case r.URL.Path == "/auth/dataget/cgi-bin/dataget.cgi" && r.Method == http.MethodGet:
		f.statuses++
		f.handles = append(f.handles, r.URL.Query().Get("data"))
		fmt.Fprint(w, f.statusBody)
	case r.URL.Path == "/auth/dataget/dlDialogue.php":
		f.downloads++
		f.handles = append(f.handles, r.URL.Query().Get("_f"))
		w.WriteHeader(f.downloadStatus)
		fmt.Fprint(w, f.downloadBody)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeFnet) calls() (int, int, int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.submits, f.statuses, f.downloads
}

type testEnv struct {
	fake        *fakeFnet
	server      *httptest.Server
	client      *Client
	tel         *telemetry.MemoryAPI
	diagnostics *bytes.Buffer
	saveDir     string
}

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func setupFetch(t testing.TB, fake *fakeFnet) testEnv {
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	tel := &telemetry.MemoryAPI{}
	diagnostics := &bytes.Buffer{}
	client, err := NewClient(ClientOptions{
		BaseUrl:     server.URL + "/auth/dataget/",
		Username:    testUsername,
		Password:    testPassword,
		Timeout:     5 * time.Second,
		Diagnostics: diagnostics,
	}, tel, chrono.FixedTime{At: testNow})
	require.NoError(t, err)

	return testEnv{
		fake:        fake,
		server:      server,
		client:      client,
		tel:         tel,
		diagnostics: diagnostics,
		saveDir:     t.TempDir(),
	}
}

func (e testEnv) request() FetchRequest {
	return FetchRequest{
		Window: UntilTime(
			time.Date(2011, 3, 11, 5, 46, 0, 0, time.UTC),
			time.Date(2011, 3, 11, 6, 46, 0, 0, time.UTC),
		),
		Filters: DefaultFilters(),
		SaveDir: e.saveDir,
	}
}

func TestFetchWaveformDownloads(t *testing.T) {
	env := setupFetch(t, newFakeFnet())

	result, err := env.client.FetchWaveform(context.Background(), env.request())
	require.NoError(t, err)

	expectedPath := filepath.Join(env.saveDir, "NIED_12345.zip")
	require.True(t, result.Downloaded())
	require.Equal(t, expectedPath, result.Path)
	require.Equal(t, DataHandle("NIED_12345.zip"), result.Handle)
	require.Equal(t, testNow, result.FetchedAt)

	contents, err := os.ReadFile(expectedPath)
	require.NoError(t, err)
	require.Equal(t, archiveBytes, string(contents))

	submits, statuses, downloads := env.fake.calls()
	require.Equal(t, 1, submits)
	require.Equal(t, 1, statuses)
	require.Equal(t, 1, downloads)
	require.Equal(t, 0, env.fake.badAuth)
	require.Equal(t, []string{"NIED_12345.zip", "NIED_12345.zip"}, env.fake.handles)

	form := env.fake.forms[0]
	require.Equal(t, "LHX", form.Get("component"))
	require.Equal(t, "zip", form.Get("archive"))
	require.Equal(t, "time", form.Get("end"))
	require.Equal(t, "06", form.Get("e_hour"))
	require.Empty(t, env.diagnostics.String())
}

func TestFetchWaveformLargeArchive(t *testing.T) {
	fake := newFakeFnet()
	// larger than the inspected head so the copy has to drain the stream
	large := bytes.Repeat([]byte("PK0123456789"), 20_000)
	fake.downloadBody = string(large)
	env := setupFetch(t, fake)

	result, err := env.client.FetchWaveform(context.Background(), env.request())
	require.NoError(t, err)

	contents, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	require.Equal(t, large, contents)
}

func TestFetchWaveformBusy(t *testing.T) {
	fake := newFakeFnet()
	fake.statusBody = statusBusyPage
	env := setupFetch(t, fake)

	result, err := env.client.FetchWaveform(context.Background(), env.request())
	require.NoError(t, err)
	require.False(t, result.Downloaded())
	require.Equal(t, NO_DATA_BUSY, result.NoData)
	require.Equal(t, DataHandle("NIED_12345.zip"), result.Handle)
	require.Contains(t, env.diagnostics.String(), result.Message)
	require.NotEmpty(t, result.Message)

	_, statuses, downloads := env.fake.calls()
	require.Equal(t, 1, statuses)
	require.Equal(t, 0, downloads)
	require.NotEmpty(t, env.tel.Reports("warning"))

	entries, err := os.ReadDir(env.saveDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFetchWaveformSizeLimit(t *testing.T) {
	fake := newFakeFnet()
	fake.statusBody = statusSizeLimitPage
	env := setupFetch(t, fake)

	result, err := env.client.FetchWaveform(context.Background(), env.request())
	require.NoError(t, err)
	require.Equal(t, NO_DATA_SIZE_LIMIT, result.NoData)
	require.Contains(t, result.Message, "50 MB")

	_, _, downloads := env.fake.calls()
	require.Equal(t, 0, downloads)
}

func TestFetchWaveformFileMissing(t *testing.T) {
	fake := newFakeFnet()
	fake.downloadBody = downloadMissingPage
	env := setupFetch(t, fake)

	result, err := env.client.FetchWaveform(context.Background(), env.request())
	require.NoError(t, err)
	require.Equal(t, NO_DATA_UNAVAILABLE, result.NoData)
	require.Empty(t, result.Path)
	require.Contains(t, result.Message, "Could not open your requested file")
	require.Contains(t, result.Message, "no data is available in the requested time range")
	require.Contains(t, env.diagnostics.String(), "multiple requests")

	_, err = os.Stat(filepath.Join(env.saveDir, "NIED_12345.zip"))
	require.True(t, os.IsNotExist(err))
}

func TestFetchWaveformSubmitStatus(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrAuthentication)
			},
		},
		{
			name:   "internal server error",
			status: http.StatusInternalServerError,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrService)
			},
		},
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				var statusErr *UnexpectedStatusError
				require.ErrorAs(t, err, &statusErr)
				require.Equal(t, http.StatusForbidden, statusErr.Code)
				require.Equal(t, STEP_SUBMIT, statusErr.Step)
			},
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			fake := newFakeFnet()
			fake.submitStatus = test.status
			env := setupFetch(t, fake)

			result, err := env.client.FetchWaveform(context.Background(), env.request())
			require.Error(t, err)
			test.check(t, err)
			require.Empty(t, result.Path)

			submits, statuses, downloads := env.fake.calls()
			require.Equal(t, 1, submits)
			require.Equal(t, 0, statuses)
			require.Equal(t, 0, downloads)
		})
	}
}

func TestFetchWaveformDownloadStatus(t *testing.T) {
	fake := newFakeFnet()
	fake.downloadStatus = http.StatusNotFound
	fake.downloadBody = "<html>not found</html>"
	env := setupFetch(t, fake)

	_, err := env.client.FetchWaveform(context.Background(), env.request())
	var statusErr *UnexpectedStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, STEP_DOWNLOAD, statusErr.Step)

	entries, err := os.ReadDir(env.saveDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFetchWaveformParseError(t *testing.T) {
	fake := newFakeFnet()
	fake.submitBody = func(int) string {
		return submitNoHandlePage
	}
	env := setupFetch(t, fake)

	_, err := env.client.FetchWaveform(context.Background(), env.request())
	var parseErr *ResponseParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, submitNoHandlePage, parseErr.Body)

	_, statuses, downloads := env.fake.calls()
	require.Equal(t, 0, statuses)
	require.Equal(t, 0, downloads)
	require.NotEmpty(t, env.tel.Reports("broken"))
}

func TestFetchWaveformValidationMakesNoCalls(t *testing.T) {
	env := setupFetch(t, newFakeFnet())

	for _, year := range []int{1, 1900, 1994} {
		req := env.request()
		req.Window = ForDuration(time.Date(year, 6, 1, 0, 0, 0, 0, time.UTC), 60)

		_, err := env.client.FetchWaveform(context.Background(), req)
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		require.ErrorIs(t, err, ErrUnsupportedTimeRange)
	}

	submits, statuses, downloads := env.fake.calls()
	require.Equal(t, 0, submits+statuses+downloads)
}

func TestFetchWaveformHandlesDiffer(t *testing.T) {
	fake := newFakeFnet()
	fake.submitBody = func(n int) string {
		return fmt.Sprintf(`<a href="dataget.cgi?data=NIED_%d.zip&amp;rn=1">x</a>`, 1000+n)
	}
	env := setupFetch(t, fake)

	first, err := env.client.FetchWaveform(context.Background(), env.request())
	require.NoError(t, err)
	second, err := env.client.FetchWaveform(context.Background(), env.request())
	require.NoError(t, err)

	require.NotEqual(t, first.Handle, second.Handle)
	require.NotEqual(t, first.Path, second.Path)

	a, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	b, err := os.ReadFile(second.Path)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestFetchWaveformProxies(t *testing.T) {
	fake := newFakeFnet()
	// the fake answers proxied requests directly, which is enough to observe
	// that every step went through it
	proxy := httptest.NewServer(fake)
	t.Cleanup(proxy.Close)

	tel := &telemetry.MemoryAPI{}
	client, err := NewClient(ClientOptions{
		BaseUrl:     "http://fnet.invalid/auth/dataget/",
		Username:    testUsername,
		Password:    testPassword,
		Timeout:     5 * time.Second,
		Diagnostics: &bytes.Buffer{},
	}, tel, chrono.FixedTime{At: testNow})
	require.NoError(t, err)

	saveDir := t.TempDir()
	result, err := client.FetchWaveform(context.Background(), FetchRequest{
		Window:  ForDuration(time.Date(2011, 3, 11, 5, 46, 0, 0, time.UTC), 3600),
		Filters: DefaultFilters(),
		SaveDir: saveDir,
		Proxies: Proxies{"http": proxy.URL},
	})
	require.NoError(t, err)
	require.True(t, result.Downloaded())

	require.Equal(t, []string{"fnet.invalid", "fnet.invalid", "fnet.invalid"}, fake.hosts)
	require.Equal(t, "duration", fake.forms[0].Get("end"))
	require.Equal(t, "3600", fake.forms[0].Get("sec"))
}

func TestFetchWaveformTransportError(t *testing.T) {
	env := setupFetch(t, newFakeFnet())
	env.server.Close()

	_, err := env.client.FetchWaveform(context.Background(), env.request())
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, STEP_SUBMIT, transportErr.Step)
	require.False(t, errors.Is(err, ErrAuthentication))
}

func TestFetchWaveformUnwritablePath(t *testing.T) {
	env := setupFetch(t, newFakeFnet())
	// a directory already occupying the archive's name makes the create fail
	require.NoError(t, os.Mkdir(filepath.Join(env.saveDir, "NIED_12345.zip"), 0755))

	_, err := env.client.FetchWaveform(context.Background(), env.request())
	var pathErr *InvalidPathError
	require.ErrorAs(t, err, &pathErr)
}

type dumpOutput struct {
	mutex sync.Mutex
	dumps map[string]string
}

func (d *dumpOutput) Write(id string, contents string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.dumps[id] = contents
}

func TestFetchWaveformDumpsExchanges(t *testing.T) {
	fake := newFakeFnet()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	output := &dumpOutput{dumps: map[string]string{}}
	client, err := NewClient(ClientOptions{
		BaseUrl:       server.URL + "/auth/dataget/",
		Username:      testUsername,
		Password:      testPassword,
		Timeout:       5 * time.Second,
		Diagnostics:   &bytes.Buffer{},
		MessageOutput: output,
	}, &telemetry.MemoryAPI{}, chrono.FixedTime{At: testNow})
	require.NoError(t, err)

	saveDir := t.TempDir()
	result, err := client.FetchWaveform(context.Background(), FetchRequest{
		Window: UntilTime(
			time.Date(2011, 3, 11, 5, 46, 0, 0, time.UTC),
			time.Date(2011, 3, 11, 6, 46, 0, 0, time.UTC),
		),
		Filters: DefaultFilters(),
		SaveDir: saveDir,
	})
	require.NoError(t, err)
	require.True(t, result.Downloaded())

	contents, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	require.Equal(t, archiveBytes, string(contents))

	output.mutex.Lock()
	defer output.mutex.Unlock()
	require.Len(t, output.dumps, 3)

	submit := output.dumps["1"]
	require.Contains(t, submit, "POST")
	require.Contains(t, submit, "component=LHX")
	require.Contains(t, submit, "<redacted>")
	require.NotContains(t, submit, testPassword)

	status := output.dumps["2"]
	require.Contains(t, status, "data=NIED_12345.zip")
	require.Contains(t, status, "<NO BODY AVAILABLE>")

	download := output.dumps["3"]
	require.Contains(t, download, "dlDialogue.php?_f=NIED_12345.zip")
	require.Contains(t, download, "<NO BODY AVAILABLE>")
}

func TestNewClientRequiresUsername(t *testing.T) {
	require.Panics(t, func() {
		NewClient(ClientOptions{Password: testPassword}, &telemetry.MemoryAPI{}, chrono.FixedTime{At: testNow})
	})
}
