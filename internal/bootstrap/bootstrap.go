// Package bootstrap drives a restore from the uploaded archive to the
// hand-off into the next-stage installer.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/slimrmm/siterestore/internal/archive"
	"github.com/slimrmm/siterestore/internal/bootlog"
	"github.com/slimrmm/siterestore/internal/config"
	"github.com/slimrmm/siterestore/internal/extract"
	"github.com/slimrmm/siterestore/internal/failure"
	"github.com/slimrmm/siterestore/internal/handoff"
	"github.com/slimrmm/siterestore/internal/lock"
	"github.com/slimrmm/siterestore/internal/metrics"
	"github.com/slimrmm/siterestore/internal/reconcile"
	"github.com/slimrmm/siterestore/internal/security/pathval"
	"github.com/slimrmm/siterestore/internal/serverenv"
)

// CapabilityDetector reports the extraction engines the host can run.
type CapabilityDetector interface {
	DetectCapabilities(ctx context.Context) extract.Capabilities
}

// EnvironmentDetector classifies the server the request runs under.
type EnvironmentDetector interface {
	Detect(ctx context.Context, vars map[string]string) serverenv.Environment
}

// Bootstrap runs the extraction state machine.
type Bootstrap struct {
	Config       *config.Config
	Logger       *slog.Logger
	Engines      extract.Engines
	Capabilities CapabilityDetector
	Environment  EnvironmentDetector
	Locker       lock.Locker
	Gate         *Gate
	Handoff      *handoff.Handoff
	Metrics      metrics.Metrics

	now func() time.Time
}

// Run executes one bootstrap run. Client disconnects do not interrupt it.
func (b *Bootstrap) Run(ctx context.Context, p Params) *Result {
	ctx = context.WithoutCancel(ctx)
	now := b.now
	if now == nil {
		now = time.Now
	}
	start := now()

	res := b.run(ctx, p)

	outcome := res.Outcome()
	b.metrics().IncRuns(outcome)
	b.metrics().ObserveRunDuration(outcome, now().Sub(start).Seconds())
	return res
}

func (b *Bootstrap) metrics() metrics.Metrics {
	if b.Metrics == nil {
		return metrics.Noop{}
	}
	return b.Metrics
}

func (b *Bootstrap) run(ctx context.Context, p Params) *Result {
	cfg := b.Config
	res := &Result{State: StateStart}

	sess := &Session{
		RootDir:           cfg.RootDir,
		SourceFolder:      cfg.Installer.SourceFolder,
		TargetFolder:      cfg.Installer.SourceFolder,
		TempExtractionDir: cfg.RootDir,
		ManualMarkerName:  archive.ManualMarkerName(cfg.Package.Hash),
	}
	defer sess.Close()

	if p.DupFolder != "" {
		if err := pathval.ValidateFolderName(p.DupFolder); err != nil {
			return res.fail(StateStart, &failure.ValidationError{
				Reason:      "The requested installer folder name is not valid.",
				Remediation: "Use letters, digits, dots, dashes and underscores only.",
				Err:         err,
			})
		}
		sess.TargetFolder = p.DupFolder
	}

	// Nothing is written before the hash matches.
	archivePath := archive.Locate(cfg.RootDir, p.ArchiveDir, cfg.Package.ArchiveName)
	if err := archive.ValidateHash(filepath.Base(archivePath), cfg.Package.Hash); err != nil {
		b.Logger.Error("archive hash check failed", "archive", filepath.Base(archivePath), "error", err)
		return res.fail(StateHashCheck, err)
	}

	if err := checkWriteTargets(sess); err != nil {
		b.Logger.Error("installer folder rejected", "error", err)
		return res.fail(StateStart, err)
	}

	blog, err := bootlog.Open(bootlog.Config{
		Dir:           cfg.RootDir,
		SecondaryHash: cfg.Package.SecondaryHash,
		MaxFileSize:   cfg.Log.BootLogMaxSize,
	})
	if err != nil {
		b.Logger.Warn("boot log unavailable", "error", err)
		blog = bootlog.Discard()
	}
	defer blog.Close()
	blog.AddSecret(p.Password)
	blog.AddSecret(cfg.Package.SecondaryHash)
	log := blog.Slog(b.Logger.Handler())

	host := serverenv.CollectHost(ctx, cfg.RootDir)
	log.Info("bootstrap started",
		"archive", archivePath,
		"hostname", host.Hostname,
		"os", host.OS,
		"platform", host.Platform,
		"kernel", host.Kernel,
		"disk_free", host.DiskFree)

	res = b.stages(ctx, log, blog.Path(), sess, archivePath, host, p, res)
	if res.View != ViewRedirect && res.Err != nil {
		sess.ErrorMessage = res.Message
		log.Error("bootstrap stopped", "state", res.State.String(), "message", sess.ErrorMessage, "error", res.Err)
	}
	return res
}

func (b *Bootstrap) stages(ctx context.Context, log *slog.Logger, bootLog string, sess *Session, archivePath string, host serverenv.Host, p Params, res *Result) *Result {
	cfg := b.Config
	hash := cfg.Package.Hash
	sourceDir := filepath.Join(sess.RootDir, sess.SourceFolder)
	installerDir := filepath.Join(sess.RootDir, sess.TargetFolder)

	res.State = StateManualMarkerCheck
	res.Manual = exists(filepath.Join(installerDir, sess.ManualMarkerName)) ||
		exists(filepath.Join(sourceDir, sess.ManualMarkerName))
	if res.Manual {
		log.Info("manual extraction marker found, skipping extraction")
	}

	pkg := &archive.Package{
		Path:          archivePath,
		DeclaredSize:  cfg.Package.ArchiveSize,
		Hash:          hash,
		SecondaryHash: cfg.Package.SecondaryHash,
		Kind:          archive.KindOf(archivePath),
	}
	var enc archive.Encryption

	if !res.Manual {
		res.State = StateSizeCheck
		if err := pkg.Stat(); err != nil {
			return res.fail(StateSizeCheck, err)
		}
		if err := pkg.CheckSize(cfg.Extract.MinSizeRatio); err != nil {
			return res.fail(StateSizeCheck, err)
		}
		if !host.HasRoomFor(pkg.ActualSize) {
			log.Warn("free disk space may be insufficient", "archive_size", pkg.ActualSize, "disk_free", host.DiskFree)
		}

		res.State = StateEncryptionCheck
		var err error
		enc, err = sess.Encryption(func() (archive.Encryption, error) {
			return archive.Probe(pkg.Path, pkg.Kind)
		})
		if err != nil {
			return res.fail(StateEncryptionCheck, err)
		}
		log.Info("archive probed", "kind", pkg.Kind.String(), "encrypted", enc.Encrypted, "method", string(enc.Method))

		res.State = StatePasswordGate
		marker := path.Join(sess.SourceFolder, archive.ManifestName(hash))
		state, err := b.Gate.Evaluate(ctx, pkg, enc, marker, Attempt{Password: p.Password, Client: p.Client})
		switch state {
		case GateNotRequired:
		case GateVerified:
			sess.SetPassword(p.Password)
			log.Info("archive password accepted")
		case GateAwaiting:
			msg := ""
			if p.SecureTry {
				msg = "Enter the archive password."
			}
			return res.askPassword(StatePasswordGate, msg)
		default:
			log.Warn("archive password rejected", "client", p.Client)
			return res.fail(StatePasswordGate, err)
		}
	}

	res.State = StateEngineCheck
	res.Engine = extract.ChoiceNone
	already := reconcile.IsExtracted(installerDir, cfg.Installer.Entry, hash)
	extractNow := !res.Manual && (!already || p.ForceExtract)
	if !res.Manual && !extractNow {
		log.Info("installer already extracted, skipping extraction", "folder", installerDir)
	}

	if extractNow {
		engine, err := b.selectEngine(ctx, sess, pkg, enc, p.ZipMode)
		if err != nil {
			return res.fail(StateEngineCheck, err)
		}
		res.Engine = engine.choice
		log.Info("extraction engine selected", "engine", engine.choice.String())

		unlock, err := b.locker().Acquire(ctx, installerDir)
		if err != nil {
			if errors.Is(err, lock.ErrBusy) {
				err = &failure.ExtractionError{
					Reason:      "Another extraction is in progress.",
					Remediation: "Wait for the other installer window to finish, then reload.",
					Err:         err,
				}
			} else {
				err = &failure.ExtractionError{Reason: "Unable to lock the installer folder.", Err: err}
			}
			return res.fail(StateEngineCheck, err)
		}
		defer func() {
			if err := unlock(); err != nil {
				log.Warn("releasing extraction lock", "error", err)
			}
		}()

		res.State = StatePurgeStaleArtifacts
		removed, err := reconcile.PurgeStale(sourceDir, hash)
		if err != nil {
			return res.fail(StatePurgeStaleArtifacts, err)
		}
		if len(removed) > 0 {
			log.Info("removed stale artifacts", "files", strings.Join(removed, ","))
		}

		res.State = StateExtract
		outcome, err := engine.Extract(ctx, extract.Request{
			ArchivePath:  pkg.Path,
			SourceFolder: sess.SourceFolder,
			DestDir:      sess.TempExtractionDir,
			Password:     sess.Password(),
			ManualMarker: sess.ManualMarkerName,
			LibFolder:    cfg.Installer.LibFolder,
		})
		res.FilesFound = outcome.FilesFound
		if err != nil {
			return res.fail(StateExtract, err)
		}
		res.Extracted = true
		b.metrics().AddFilesExtracted(engine.choice.String(), outcome.FilesFound)
		log.Info("archive extracted", "files", outcome.FilesFound)
	}

	res.State = StateReconcile
	if sess.SourceFolder != sess.TargetFolder && exists(sourceDir) {
		if err := reconcile.Relocate(sess.RootDir, sess.SourceFolder, sess.TargetFolder); err != nil {
			return res.fail(StateReconcile, err)
		}
		log.Info("installer folder renamed", "from", sess.SourceFolder, "to", sess.TargetFolder)
	}
	if removed, err := reconcile.RemoveAccessRestriction(installerDir); err != nil {
		return res.fail(StateReconcile, err)
	} else if removed {
		log.Info("removed access restriction file", "folder", installerDir)
	}

	res.State = StateVerifyInstallerPresent
	if !reconcile.InstallerPresent(installerDir, cfg.Installer.Entry) {
		return res.fail(StateVerifyInstallerPresent, &failure.ExtractionError{
			Reason:      fmt.Sprintf("The installer file %s is missing from the %s folder.", cfg.Installer.Entry, sess.TargetFolder),
			Remediation: "Extract the archive manually and reload the installer.",
		})
	}

	res.State = StateAdaptEnvironment
	env := sess.Environment(func() serverenv.Environment {
		return b.Environment.Detect(ctx, p.Vars)
	})
	if o, ok := serverenv.OverrideFor(env, cfg.Runtime.Limits); ok {
		err := pathval.New(sess.RootDir).ValidateWithSymlinkResolution(filepath.Join(installerDir, o.FileName))
		if err == nil {
			err = serverenv.Write(installerDir, o)
		}
		if err != nil {
			log.Warn("runtime overrides not written", "environment", env.String(), "error", err)
		} else {
			log.Info("runtime overrides written", "environment", env.String(), "file", o.FileName)
		}
	} else {
		log.Info("no runtime overrides for environment", "environment", env.String())
	}

	res.State = StateSecureHandoff
	form, err := b.Handoff.Prepare(ctx, handoff.Bag{
		URL:           nextStageURL(cfg.Installer.NextStageURL, sess.SourceFolder, sess.TargetFolder),
		Archive:       pkg.Path,
		Bootloader:    p.Bootloader,
		Password:      sess.Password(),
		BootLog:       bootLog,
		PackageHash:   hash,
		SecondaryHash: cfg.Package.SecondaryHash,
	})
	if err != nil {
		return res.fail(StateSecureHandoff, &failure.CapabilityError{
			Reason:      "Unable to hand the session over to the installer.",
			Remediation: "Check the hand-off store configuration.",
			Err:         err,
		})
	}

	res.State = StateRedirect
	res.View = ViewRedirect
	res.Form = form
	log.Info("handing off to installer", "url", form.Action)
	return res
}

// checkWriteTargets confines the installer folders, including symlinked
// ones, to the root directory.
func checkWriteTargets(sess *Session) error {
	paths := pathval.New(sess.RootDir)
	for _, folder := range []string{sess.SourceFolder, sess.TargetFolder} {
		if err := paths.ValidateWithSymlinkResolution(filepath.Join(sess.RootDir, folder)); err != nil {
			return &failure.ValidationError{
				Reason:      fmt.Sprintf("The installer folder %s is outside the installation directory or reserved.", folder),
				Remediation: "Remove the link or choose another folder name.",
				Err:         err,
			}
		}
	}
	return nil
}

type selectedEngine struct {
	extract.Engine
	choice extract.Choice
}

func (b *Bootstrap) selectEngine(ctx context.Context, sess *Session, pkg *archive.Package, enc archive.Encryption, zipMode string) (selectedEngine, error) {
	raw := zipMode
	if raw == "" {
		raw = b.Config.Extract.Mode
	}
	mode, err := extract.ParseMode(raw)
	if err != nil {
		return selectedEngine{}, &failure.ValidationError{
			Reason:      "The requested extraction mode is not valid.",
			Remediation: "Use auto, ziparchive or shellexec.",
			Err:         err,
		}
	}
	caps := sess.Capabilities(ctx, b.Capabilities.DetectCapabilities)
	choice, err := extract.Select(mode, caps, pkg.Kind, enc)
	if err != nil {
		return selectedEngine{}, err
	}
	engine, err := b.Engines.For(choice, pkg.Kind)
	if err != nil {
		return selectedEngine{}, err
	}
	return selectedEngine{Engine: engine, choice: choice}, nil
}

func (b *Bootstrap) locker() lock.Locker {
	if b.Locker == nil {
		return lock.Nop{}
	}
	return b.Locker
}

// nextStageURL points the configured URL at the renamed folder.
func nextStageURL(configured, source, target string) string {
	if source == target {
		return configured
	}
	if rest, ok := strings.CutPrefix(configured, source+"/"); ok {
		return target + "/" + rest
	}
	if rest, ok := strings.CutPrefix(configured, "/"+source+"/"); ok {
		return "/" + target + "/" + rest
	}
	return configured
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
