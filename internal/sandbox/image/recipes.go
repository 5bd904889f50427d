package image

import (
	_ "embed"
	"fmt"
)

//go:embed recipes/basic.Dockerfile
var basicDockerfile []byte

//go:embed recipes/enhanced.Dockerfile
var enhancedDockerfile []byte

// dockerfileFor returns the embedded Dockerfile recipe for profile,
// continuing image_manager.py's _generate_optimized_dockerfile shape:
// build dependencies installed then stripped, non-root user, wget/curl
// removed.
func dockerfileFor(profile string) ([]byte, error) {
	switch normalizeProfile(profile) {
	case Enhanced:
		return enhancedDockerfile, nil
	case Basic:
		return basicDockerfile, nil
	default:
		return nil, fmt.Errorf("image: unknown profile %q", profile)
	}
}
