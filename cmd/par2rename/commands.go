package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"example.com/par2rename/internal/common"
	"example.com/par2rename/internal/config"
	"example.com/par2rename/internal/crypto"
	"example.com/par2rename/internal/manifest"
	"example.com/par2rename/internal/par2"
	"example.com/par2rename/internal/report"
)

func (a *app) filesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files <file.par2>",
		Short: "List the .par2 files that belong to the same set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := par2.FindSetFiles(args[0])
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return &exitError{code: 1, err: fmt.Errorf("no .par2 files named like %s", par2.SetBaseName(args[0]))}
			}
			for _, f := range files {
				fmt.Fprintln(a.stdout, f)
			}
			return nil
		},
	}
}

type listOutput struct {
	SetID     string   `json:"setId"`
	FileCount uint32   `json:"fileCount"`
	Names     []string `json:"names"`
	Sources   []string `json:"sources"`
	Complete  bool     `json:"complete"`
}

func (a *app) index(paths []string) (*par2.SetIndex, error) {
	opts := a.cfg.IndexOptions()
	ix, err := par2.BuildIndex(paths, opts)
	if errors.Is(err, par2.ErrIndexIncomplete) {
		return ix, &exitError{code: 1, err: err}
	}
	return ix, err
}

func (a *app) listCmd() *cobra.Command {
	var asJSON, noSiblings bool
	cmd := &cobra.Command{
		Use:   "list <file.par2>...",
		Short: "Show the source file names recorded by a set",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := expandInputs(args, noSiblings)
			if err != nil {
				return err
			}
			ix, err := a.index(paths)
			if ix == nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(listOutput{
					SetID:     ix.SetID.String(),
					FileCount: ix.FileCount,
					Names:     ix.Names(),
					Sources:   ix.Sources,
					Complete:  ix.Complete(),
				}); encErr != nil {
					return encErr
				}
				return err
			}
			fmt.Fprintln(a.stdout, titleStyle.Render("Recovery set ")+subtitleStyle.Render(ix.SetID.String()))
			fmt.Fprintf(a.stdout, "%d of %d files\n", len(ix.Files), ix.FileCount)
			for _, f := range ix.Files {
				fmt.Fprintf(a.stdout, "  %s %s\n", nameStyle.Render(f.Name), subtitleStyle.Render(common.FormatBytes(int64(f.Length))))
			}
			if err != nil {
				fmt.Fprintln(a.stderr, warningStyle.Render("Warning: ")+err.Error())
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the index as JSON")
	cmd.Flags().BoolVar(&noSiblings, "no-siblings", false, "index only the given files")
	return cmd
}

type renameFlags struct {
	renames    []string
	editsFile  string
	prefix     string
	outDir     string
	summary    string
	pdf        string
	audit      string
	manifest   string
	signKey    string
	signCert   string
	lang       string
	progress   bool
	noSiblings bool
}

func (a *app) renameCmd() *cobra.Command {
	var f renameFlags
	cmd := &cobra.Command{
		Use:   "rename <file.par2>... --rename old=new",
		Short: "Write copies of the set with file names replaced",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRename(cmd, args, f)
		},
	}
	fl := cmd.Flags()
	fl.StringArrayVarP(&f.renames, "rename", "r", nil, "rename old=new (repeatable)")
	fl.StringVar(&f.editsFile, "edits", "", "YAML file with a renames list")
	fl.StringVar(&f.prefix, "prefix", "", "output file name prefix (default from config, new_)")
	fl.StringVar(&f.outDir, "out-dir", "", "directory for outputs (default next to inputs)")
	fl.StringVar(&f.summary, "summary", "", "write a JSON summary")
	fl.StringVar(&f.pdf, "pdf", "", "write a PDF report")
	fl.StringVar(&f.audit, "audit", "", "append packet changes to a JSONL audit log")
	fl.StringVar(&f.manifest, "manifest", "", "write a SHA-256 manifest of the outputs")
	fl.StringVar(&f.signKey, "sign-key", "", "PEM RSA key to sign the manifest with (detached JWS)")
	fl.StringVar(&f.signCert, "sign-cert", "", "PEM certificate of the signer")
	cmd.MarkFlagsRequiredTogether("sign-key", "sign-cert")
	fl.StringVar(&f.lang, "lang", "", "PDF report language (en, tr)")
	fl.BoolVar(&f.progress, "progress", false, "print progress while rewriting")
	fl.BoolVar(&f.noSiblings, "no-siblings", false, "rewrite only the given files")
	return cmd
}

func (a *app) proposeAll(m *par2.RenameMap, f renameFlags) error {
	var edits []par2.RenameEntry
	if f.editsFile != "" {
		loaded, err := config.LoadEdits(f.editsFile)
		if err != nil {
			return err
		}
		edits = append(edits, loaded...)
	}
	for _, r := range f.renames {
		e, err := config.ParseEdit(r)
		if err != nil {
			return err
		}
		edits = append(edits, e)
	}
	var errs []error
	for _, e := range edits {
		if err := m.Propose(e.Original, e.New); err != nil {
			errs = append(errs, err)
			continue
		}
		common.Debugf("rename %q -> %q accepted", e.Original, e.New)
	}
	return errors.Join(errs...)
}

func (a *app) runRename(cmd *cobra.Command, args []string, f renameFlags) error {
	if f.signKey != "" && f.manifest == "" {
		return &exitError{code: 2, err: errors.New("--sign-key requires --manifest")}
	}
	paths, err := expandInputs(args, f.noSiblings)
	if err != nil {
		return err
	}
	ix, err := a.index(paths)
	if err != nil {
		return err
	}

	m := par2.NewRenameMap(ix.Names())
	if err := a.proposeAll(m, f); err != nil {
		return &exitError{code: 1, err: err}
	}
	if !m.IsDirty() {
		return &exitError{code: 1, err: errors.New("no file names changed")}
	}

	opts := par2.RewriteOptions{
		Scan:    a.cfg.ScanOptions(),
		Prefix:  firstNonEmpty(f.prefix, a.cfg.Output.Prefix),
		OutDir:  firstNonEmpty(f.outDir, a.cfg.Output.Directory),
		Metrics: common.NewMetrics(),
		BatchID: newBatchID(),
	}
	auditPath := f.audit
	if auditPath == "" && a.cfg.Audit.Enabled {
		auditPath = a.cfg.Audit.Path
	}
	if auditPath != "" {
		opts.Audit = common.NewPatchLog(auditPath)
	}

	common.Logf("batch %s: renaming %d names in %d files", opts.BatchID, len(m.Entries()), len(paths))
	opts.Metrics.Start()
	stopProgress := func() {}
	if f.progress {
		stopProgress = common.StartProgressPrinter(a.stderr, opts.Metrics, 500*time.Millisecond)
	}
	batch := par2.RewriteSet(cmd.Context(), paths, m.Plan(ix.SetID), opts)
	stopProgress()
	opts.Metrics.Stop()

	sum := report.FromBatch(ix, m.Entries(), batch)
	if err := a.writeArtifacts(&sum, f, auditPath); err != nil {
		return err
	}

	for _, fr := range batch.Failed() {
		fmt.Fprintln(a.stderr, errorStyle.Render("Failed: ")+fr.Input+": "+fr.Err.Error())
	}
	line := sum.CompletionLine()
	if batch.Aborted || len(batch.Failed()) > 0 {
		fmt.Fprintln(a.stdout, warningStyle.Render(line))
		return &exitError{code: 1}
	}
	fmt.Fprintln(a.stdout, successStyle.Render(line))
	return nil
}

func (a *app) writeArtifacts(sum *report.Summary, f renameFlags, auditPath string) error {
	if outputs := sum.Outputs(); len(outputs) > 0 {
		man, err := outputManifest(sum)
		if err != nil {
			return fmt.Errorf("manifest: %w", err)
		}
		sum.ManifestDigest = man.Digest()
		if f.manifest != "" {
			if err := saveManifest(man, f); err != nil {
				return err
			}
			sum.Manifest = f.manifest
		}
	}
	if f.summary != "" {
		if err := report.SaveSummaryJSON(*sum, f.summary); err != nil {
			return err
		}
	}
	if f.pdf != "" {
		lang, err := report.ParseLanguage(firstNonEmpty(f.lang, a.cfg.Report.Lang))
		if err != nil {
			return err
		}
		entries, err := batchAudit(auditPath, sum.BatchID)
		if err != nil {
			return err
		}
		if err := report.SaveRenamePDF(*sum, entries, lang, f.pdf); err != nil {
			return fmt.Errorf("pdf report: %w", err)
		}
	}
	return nil
}

// outputManifest uses the digests recorded while rewriting and only hashes
// outputs that lack one.
func outputManifest(sum *report.Summary) (manifest.Manifest, error) {
	man := manifest.New(sum.BatchID)
	for _, fs := range sum.Files {
		if fs.Error != "" || fs.Output == "" {
			continue
		}
		if fs.Sha256 != "" {
			man.Items = append(man.Items, manifest.NewItem(fs.Output, fs.BytesOut, fs.Sha256))
			continue
		}
		extra, err := manifest.Build(sum.BatchID, []string{fs.Output})
		if err != nil {
			return man, err
		}
		man.Items = append(man.Items, extra.Items...)
	}
	return man, nil
}

// saveManifest writes the manifest and, when a key is given, a detached
// JWS next to it covering the exact manifest bytes.
func saveManifest(man manifest.Manifest, f renameFlags) error {
	if f.signKey == "" {
		return manifest.Save(man, f.manifest)
	}
	keyBytes, err := os.ReadFile(f.signKey)
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	certBytes, err := os.ReadFile(f.signCert)
	if err != nil {
		return fmt.Errorf("read cert: %w", err)
	}
	cert, err := crypto.ParseCertificate(certBytes)
	if err != nil {
		return err
	}
	sigPath := signaturePath(f.manifest)
	man.Signature = &manifest.Signature{
		Type:          "jws-detached",
		CertSubject:   cert.Subject.String(),
		Issuer:        cert.Issuer.String(),
		SignatureFile: sigPath,
	}
	payload, err := manifest.Encode(man)
	if err != nil {
		return err
	}
	jws, err := crypto.SignDetachedJWS(payload, keyBytes)
	if err != nil {
		return fmt.Errorf("manifest sign: %w", err)
	}
	jwsBytes, err := json.MarshalIndent(jws, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(sigPath, jwsBytes, 0o644); err != nil {
		return err
	}
	common.Logf("signed manifest as %s", cert.Subject.CommonName)
	return os.WriteFile(f.manifest, payload, 0o644)
}

func signaturePath(manifestPath string) string {
	ext := filepath.Ext(manifestPath)
	return manifestPath[:len(manifestPath)-len(ext)] + ".jws"
}

// batchAudit returns the audit entries written by one batch. A nil slice
// means no audit log was kept.
func batchAudit(path, batchID string) ([]common.PatchEntry, error) {
	if path == "" {
		return nil, nil
	}
	all, err := common.ReadPatchLog(path)
	if errors.Is(err, os.ErrNotExist) {
		return []common.PatchEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := []common.PatchEntry{}
	for _, e := range all {
		if batchID == "" || e.BatchID == batchID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *app) reportCmd() *cobra.Command {
	var summaryPath, pdfPath, auditPath, lang string
	cmd := &cobra.Command{
		Use:   "report --summary s.json --pdf r.pdf",
		Short: "Render a PDF report from a saved summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := report.LoadSummaryJSON(summaryPath)
			if err != nil {
				return err
			}
			l, err := report.ParseLanguage(firstNonEmpty(lang, a.cfg.Report.Lang))
			if err != nil {
				return err
			}
			entries, err := batchAudit(auditPath, sum.BatchID)
			if err != nil {
				return err
			}
			if err := report.SaveRenamePDF(sum, entries, l, pdfPath); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, successStyle.Render("Wrote ")+filepath.Clean(pdfPath))
			return nil
		},
	}
	cmd.Flags().StringVar(&summaryPath, "summary", "", "JSON summary written by rename")
	cmd.Flags().StringVar(&pdfPath, "pdf", "", "PDF output path")
	cmd.Flags().StringVar(&auditPath, "audit", "", "audit log to include")
	cmd.Flags().StringVar(&lang, "lang", "", "report language (en, tr)")
	cmd.MarkFlagRequired("summary")
	cmd.MarkFlagRequired("pdf")
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	var jwsPath, certPath string
	cmd := &cobra.Command{
		Use:   "verify <manifest.json>",
		Short: "Check rewritten files against a manifest and its signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var man manifest.Manifest
			if err := json.Unmarshal(raw, &man); err != nil {
				return fmt.Errorf("parse manifest: %w", err)
			}
			if certPath != "" {
				if jwsPath == "" {
					jwsPath = signaturePath(args[0])
				}
				if err := verifySignature(raw, jwsPath, certPath); err != nil {
					return &exitError{code: 1, err: err}
				}
				fmt.Fprintln(a.stdout, successStyle.Render("Signature OK"))
			}
			if err := manifest.Verify(man); err != nil {
				return &exitError{code: 1, err: err}
			}
			fmt.Fprintln(a.stdout, successStyle.Render(fmt.Sprintf("%d files match", len(man.Items))))
			return nil
		},
	}
	cmd.Flags().StringVar(&jwsPath, "jws", "", "detached signature (default <manifest>.jws)")
	cmd.Flags().StringVar(&certPath, "cert", "", "signer certificate; enables signature checking")
	return cmd
}

func verifySignature(payload []byte, jwsPath, certPath string) error {
	jwsBytes, err := os.ReadFile(jwsPath)
	if err != nil {
		return fmt.Errorf("read jws: %w", err)
	}
	certBytes, err := os.ReadFile(certPath)
	if err != nil {
		return fmt.Errorf("read cert: %w", err)
	}
	jws, err := crypto.ParseDetachedJWS(jwsBytes)
	if err != nil {
		return fmt.Errorf("parse jws: %w", err)
	}
	if err := crypto.VerifyDetachedJWS(payload, jws, certBytes); err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
