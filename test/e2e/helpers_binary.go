//go:build e2e

package e2e

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// librarianServer manages a running librarian serve process.
type librarianServer struct {
	cmd     *exec.Cmd
	dataDir string
	address string
	apiKey  string
	logFile string
	env     []string
}

// librarianEnv configures the binary entirely through environment
// variables: offline embeddings, local moderation and the fake provider.
func librarianEnv(dataDir, providerURL string, port int) []string {
	return append(os.Environ(),
		"LIBRARIAN_PORT="+fmt.Sprintf("%d", port),
		"LIBRARIAN_API_KEY="+testAPIKey,
		"LIBRARIAN_INDEX_PATH="+filepath.Join(dataDir, "librarian.db"),
		"LIBRARIAN_AUDIO_DIR="+filepath.Join(dataDir, "audio"),
		"LIBRARIAN_CONFIG_PATH="+filepath.Join(dataDir, "nonexistent.yaml"), // skip YAML file
		"LIBRARIAN_ENV_FILE="+filepath.Join(dataDir, "nonexistent.env"),
		"LIBRARIAN_EMBEDDING_PROVIDER=hashing",
		"MODERATION_PROVIDER=local",
		"BOOK_SUMMARIES_PATH="+filepath.Join(dataDir, "books.json"),
		"OPENAI_API_KEY=e2e-provider-key",
		"OPENAI_BASE_URL="+providerURL,
	)
}

// runLibrarian runs a one-shot CLI command against dataDir.
func runLibrarian(t *testing.T, env []string, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command(librarianBin, args...)
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// startLibrarian writes the corpus, ingests it and launches the server,
// waiting until it reports healthy.
func startLibrarian(t *testing.T, fp *fakeProvider) *librarianServer {
	t.Helper()
	requireLibrarian(t)

	dataDir := t.TempDir()
	writeCorpus(t, dataDir)
	port := freePort(t)
	env := librarianEnv(dataDir, fp.baseURL(), port)

	if out, err := runLibrarian(t, env, "ingest"); err != nil {
		t.Fatalf("librarian ingest: %v\n%s", err, out)
	}

	s := &librarianServer{
		dataDir: dataDir,
		address: fmt.Sprintf("127.0.0.1:%d", port),
		apiKey:  testAPIKey,
		logFile: filepath.Join(dataDir, "librarian.log"),
		env:     env,
	}
	s.start(t)
	return s
}

func (s *librarianServer) start(t *testing.T) {
	t.Helper()

	lf, err := os.Create(s.logFile)
	if err != nil {
		t.Fatalf("create log file: %v", err)
	}

	s.cmd = exec.Command(librarianBin, "serve")
	s.cmd.Env = s.env
	s.cmd.Stdout = lf
	s.cmd.Stderr = lf

	if err := s.cmd.Start(); err != nil {
		lf.Close()
		t.Fatalf("start librarian: %v", err)
	}

	t.Cleanup(func() {
		s.stop()
		lf.Close()
	})

	if err := s.waitHealthy(10 * time.Second); err != nil {
		logs, _ := os.ReadFile(s.logFile)
		t.Fatalf("librarian not healthy: %v\n%s", err, logs)
	}
}

func (s *librarianServer) stop() {
	if s.cmd != nil && s.cmd.Process != nil && s.cmd.ProcessState == nil {
		_ = s.cmd.Process.Signal(os.Interrupt)
		_ = s.cmd.Wait()
	}
}

func (s *librarianServer) baseURL() string {
	return fmt.Sprintf("http://%s", s.address)
}

func (s *librarianServer) waitHealthy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("%s/api/v1/health", s.baseURL())

	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("librarian not healthy after %s", timeout)
}

// freePort returns a free TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
