package e2etests

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/vladimirvivien/gexe"
	"github.com/vladimirvivien/gexe/exec"
)

var (
	binDir     string
	respoolctl string
	respoolAPI string
)

func TestMain(m *testing.M) {
	// The tests build and run the binaries: RESPOOL_E2E=1 go test ./tests/e2e/
	if _, found := os.LookupEnv("RESPOOL_E2E"); !found {
		log.Printf("Skipping e2e tests, RESPOOL_E2E is not set")
		os.Exit(0)
	}

	var err error
	binDir, err = os.MkdirTemp("", "respool-e2e")
	if err != nil {
		log.Fatalf("Failed to create the binaries dir: %s", err)
	}

	respoolctl = filepath.Join(binDir, "respoolctl")
	respoolAPI = filepath.Join(binDir, "respool-api")

	code := 1
	if err := buildBinaries(); err == nil {
		code = m.Run()
	}

	os.RemoveAll(binDir)
	os.Exit(code)
}

func buildBinaries() error {
	for bin, pkg := range map[string]string{
		respoolctl: "./cmd/respoolctl",
		respoolAPI: "./cmd/respool-api",
	} {
		log.Printf("Building %s", pkg)
		p := gexe.New().SetEnv("CGO_ENABLED", "0").RunProc(fmt.Sprintf("go -C ../.. build -o %s %s", bin, pkg))
		if p.Err() != nil {
			log.Printf("Failed to build %s: %s : %s", pkg, p.Result(), p.Err())
			return p.Err()
		}
	}
	return nil
}

func runCommand(command string) *exec.Proc {
	return gexe.RunProc(command)
}
