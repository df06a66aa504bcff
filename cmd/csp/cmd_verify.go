package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/beobal/csp/internal/domain-adapters/gateways"
	orchestrators "github.com/beobal/csp/internal/domain-orchestrators"
	"github.com/beobal/csp/internal/domain/entities"
	gwiface "github.com/beobal/csp/internal/domain/interfaces/gateways"
)

func runVerify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	global := addGlobalFlags(fs)
	var keyFiles, keyURLs, keyIDs, keyservers listFlag
	fs.Var(&keyFiles, "key", "Trusted OpenPGP public key file (repeatable)")
	fs.Var(&keyURLs, "keys-url", "URL of a KEYS file with trusted public keys (repeatable)")
	fs.Var(&keyIDs, "key-id", "Fingerprint of a trusted key to fetch from a keyserver (repeatable)")
	fs.Var(&keyservers, "keyserver", "Keyserver base URL for --key-id (repeatable)")
	var (
		dest             = fs.String("dest", "", "Destination URI to verify instead of a local directory")
		tag              = fs.String("tag", "", "Snapshot tag to verify at --dest")
		node             = fs.String("node", "", "Node that published the snapshot (default this node)")
		cluster          = fs.String("cluster", "", "Cluster of the publication (default from cassandra.yaml)")
		requireSignature = fs.Bool("require-signature", false, "Fail unless the manifest signature checks out")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: csp verify <dir> [options]
       csp verify --dest <uri> --tag <tag> [options]

Verify a publication: the manifest checksum, the manifest signature when
public keys are given, and the size and SHA-256 of every archive.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Verify a local publication directory
  csp verify /backups/Prod/node-1/nightly --key release.asc --require-signature

  # Verify a publication in place
  csp verify --dest https://dav.example.com/backups --tag nightly --node node-1

  # Fetch the trusted key from a keyserver
  csp verify --dest github://acme/backups --tag nightly --key-id 7F92E05B31093BEF
`)
	}

	if err := parseFlags(fs, args); err != nil {
		return err
	}
	switch {
	case *dest == "" && fs.NArg() != 1:
		fs.Usage()
		return usageErrorf("a publication directory or --dest is required")
	case *dest != "" && fs.NArg() != 0:
		return usageErrorf("give either a directory or --dest, not both")
	case *dest != "" && *tag == "":
		return usageErrorf("--dest needs --tag")
	}

	a, err := global.loadConfig(nil)
	if err != nil {
		return err
	}

	sources := gateways.KeySources{
		Files:        keyFiles,
		URLs:         keyURLs,
		Fingerprints: keyIDs,
		Keyservers:   keyservers,
	}
	var verifier gwiface.SignatureVerifier
	if !sources.Empty() {
		v, err := gateways.NewSignatureVerifier(ctx, sources)
		if err != nil {
			return err
		}
		verifier = v
	}
	orch := orchestrators.NewVerifyOrchestrator(verifier, a.log)
	opts := orchestrators.VerifyOptions{RequireSignature: *requireSignature}

	var result *orchestrators.VerifyResult
	if *dest == "" {
		result, err = orch.VerifyLocal(ctx, fs.Arg(0), opts)
	} else {
		if err := entities.ValidateTag(*tag); err != nil {
			return err
		}
		key, kerr := a.remoteKey(*tag, *cluster, *node)
		if kerr != nil {
			return kerr
		}
		d, derr := gateways.ParseDestination(*dest, a.destinationOptions())
		if derr != nil {
			return &usageError{err: derr}
		}
		fetcher, ok := d.(gwiface.Fetcher)
		if !ok {
			return usageErrorf("destination %s cannot read publications back", d.Describe())
		}
		result, err = orch.VerifyRemote(ctx, fetcher, d.Describe()+"/"+key.Prefix(), key, opts)
	}

	if result != nil && (err == nil || errors.Is(err, orchestrators.ErrVerificationFailed)) {
		fmt.Println(result.GetVerifySummary())
	}
	return err
}

// remoteKey fills in cluster and node from this node's configuration when
// they are not given explicitly
func (a *app) remoteKey(tag, cluster, node string) (entities.PublicationKey, error) {
	if cluster == "" || node == "" {
		if err := a.resolveNode(); err != nil {
			return entities.PublicationKey{}, err
		}
		if cluster == "" {
			cluster = a.node.ClusterName
		}
		if node == "" {
			node = a.nodeName
		}
	}
	return entities.PublicationKey{Cluster: cluster, Node: node, Tag: tag}, nil
}
