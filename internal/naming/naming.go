// Package naming computes the deterministic names under which images and
// their supporting resources are published.
//
// All names carry the 32-character content-addressed store hash so that
// republishing an unchanged build resolves to the same cloud resource.
package naming

import "strings"

const (
	// MaxImageNameLen is the longest image name accepted by EC2.
	MaxImageNameLen = 128

	// StoreHashLen is the length of the uniqueness-bearing suffix taken
	// from the builder's content-addressed output path.
	StoreHashLen = 32

	// maxOxideNameLen is the hard limit Oxide places on resource names.
	maxOxideNameLen = 63
)

// Image returns "<package>-<storeHash>" bounded to MaxImageNameLen.
// Truncation is applied to the package name only, never to the hash
// suffix, so the uniqueness token survives arbitrarily long names.
func Image(pkg, storeHash string) string {
	max := MaxImageNameLen - (StoreHashLen + 1)
	if len(pkg) > max {
		pkg = pkg[:max]
	}
	return pkg + "-" + storeHash
}

// OxideImage is Image with Oxide's character restrictions applied:
// underscores are not allowed, and names are capped at 63 characters.
func OxideImage(pkg, storeHash string) string {
	return truncateOxide(strings.ReplaceAll(Image(pkg, storeHash), "_", "-"))
}

// OxideDisk names the import disk backing an image upload.
func OxideDisk(image string) string {
	return truncateOxide(image + "-disk")
}

// OxideSnapshot names the snapshot taken when an import disk is finalized.
func OxideSnapshot(image string) string {
	return truncateOxide(image + "-snap")
}

// OxideInstanceDisk names the boot disk of a deployed instance.
func OxideInstanceDisk(image string) string {
	return truncateOxide(image + "-instance-disk")
}

func truncateOxide(name string) string {
	if len(name) > maxOxideNameLen {
		return name[:maxOxideNameLen]
	}
	return name
}
