package index

import (
	"bytes"
	"io"
	"net/http"
	"os/exec"

	"github.com/cratehost/cratehost/internal/apierr"
)

// ServeInfoRefs implements GET info/refs?service=git-upload-pack by
// shelling out to git-upload-pack --advertise-refs, exactly the
// execute_at_location("git-upload-pack", ["--http-backend-info-refs", ".git"])
// call in original_source/src/index.rs, since go-git does not implement
// the server side of the smart protocol.
func (s *Store) ServeInfoRefs(w http.ResponseWriter, r *http.Request) {
	out, err := s.runGit(nil, "git-upload-pack", "--http-backend-info-refs", ".git")
	if err != nil {
		panic(apierr.IndexUnavailablef("git-upload-pack info/refs: %v", err))
	}
	w.Header().Set("Content-Type", "application/x-git-upload-pack-advertisement")
	w.Write([]byte("001e# service=git-upload-pack\n0000"))
	w.Write(out)
}

// ServeUploadPack implements POST git-upload-pack, read-only, by piping the
// request body to git-upload-pack --stateless-rpc, mirroring
// get_upload_pack_for in original_source.
func (s *Store) ServeUploadPack(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		panic(apierr.Invalidf(apierr.CodeBadManifest, "reading upload-pack request: %v", err))
	}
	out, err := s.runGit(body, "git-upload-pack", "--stateless-rpc", ".git")
	if err != nil {
		panic(apierr.IndexUnavailablef("git-upload-pack: %v", err))
	}
	w.Header().Set("Content-Type", "application/x-git-upload-pack-result")
	w.Write(out)
}

func (s *Store) runGit(stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = s.cfg.Location
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, apierr.Internalf("%s %v: %v: %s", name, args, err, stderr.String())
	}
	return stdout.Bytes(), nil
}
