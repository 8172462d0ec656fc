package template

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Domain prefixes for content-addressed identity. The version suffix
// enables future algorithm migration without colliding with old hashes.
const (
	DomainSpec        = "klaxon/spec/v1"
	DomainFingerprint = "klaxon/fingerprint/v1"
	DomainRegistry    = "klaxon/registry/v1"
)

// executableNamespace is the fixed UUIDv5 namespace for executable ids.
var executableNamespace = uuid.MustParse("6f1c24b2-9d0a-4c52-8a4e-30f1d7c2ab19")

// fingerprintDropSet is the fixed set of presentation and identity keys
// stripped before fingerprinting. Two templates that differ only in these
// fields carry the same alert logic and must dedupe to one fingerprint.
var fingerprintDropSet = map[string]struct{}{
	"name":             {},
	"description":      {},
	"assumptions":      {},
	"warnings":         {},
	"template_id":      {},
	"template_version": {},
	"fingerprint":      {},
	"spec_hash":        {},
}

// hashWithDomain computes SHA-256 with domain separation:
// SHA256(domain + 0x00 + data). The null byte prevents domain/data
// boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// HashCanonical canonicalizes v and hashes it under the given domain.
// Shared by the catalog package for registry snapshot hashes.
func HashCanonical(domain string, v any) (string, error) {
	tree, err := toJSONTree(v)
	if err != nil {
		return "", err
	}
	canonical, err := MarshalCanonical(tree)
	if err != nil {
		return "", fmt.Errorf("canonical marshal: %w", err)
	}
	return hashWithDomain(domain, canonical), nil
}

// SpecHash hashes the entire template for audit and integrity checking.
// Any change to the template, presentation included, changes the hash.
func SpecHash(tpl any) (string, error) {
	return HashCanonical(DomainSpec, tpl)
}

// Fingerprint hashes the template after stripping the fixed drop-set of
// presentation and identity keys. It answers "is this the same alert logic
// regardless of wording or identity". Logic changes (trigger, signals,
// scope, variables) change the fingerprint; renames do not.
func Fingerprint(tpl any) (string, error) {
	tree, err := toJSONTree(tpl)
	if err != nil {
		return "", err
	}
	obj, ok := tree.(map[string]any)
	if !ok {
		return "", fmt.Errorf("fingerprint input must be a JSON object, got %T", tree)
	}
	stripped := make(map[string]any, len(obj))
	for k, v := range obj {
		if _, drop := fingerprintDropSet[k]; drop {
			continue
		}
		stripped[k] = v
	}
	canonical, err := MarshalCanonical(stripped)
	if err != nil {
		return "", fmt.Errorf("canonical marshal: %w", err)
	}
	return hashWithDomain(DomainFingerprint, canonical), nil
}

// ExecutableID derives the content-addressed id of a compiled executable.
// It is a pure function of identity inputs - never wall-clock time - so
// recompiling an unchanged (template, version, registry) triple is a no-op
// from a caching and dedup perspective.
func ExecutableID(templateID string, version int, registryHash string) string {
	name := templateID + ":" + strconv.Itoa(version) + ":" + registryHash
	return uuid.NewSHA1(executableNamespace, []byte(name)).String()
}
