package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"portal/internal/assignment"
	"portal/internal/backup"
	"portal/internal/config"
	"portal/internal/drafts"
	"portal/internal/events"
	"portal/internal/export"
	"portal/internal/gitrepo"
	"portal/internal/localstore"
	"portal/internal/logging"
	"portal/internal/merge"
	"portal/internal/remote"
	"portal/internal/render"
	"portal/internal/scheduler"
	"portal/internal/session"
	"portal/internal/status"
	"portal/internal/submission"
)

const gateResumeTimeout = 20 * time.Second

// Deps are the collaborators New cannot build from the configuration alone.
// Zero values fall back to defaults: memory store, real clock, no-op logger.
type Deps struct {
	Config     config.Config
	Store      localstore.Store
	Clock      scheduler.Clock
	Logger     *logging.Logger
	HTTPClient *http.Client
	History    backup.History
	Archive    backup.Archiver
}

type Service struct {
	cfg   config.Config
	log   *logging.Logger
	store localstore.Store
	bus   *events.Bus
	clock scheduler.Clock

	repo      *drafts.Repository
	session   *session.Context
	status    *status.Indicator
	remote    *remote.Client
	merge     *merge.Engine
	router    *render.Router
	assembler *submission.Assembler
	submitter *submission.Submitter
	autosave  *submission.AutoSaver
	backup    *backup.Service
	export    *export.Service

	unsubscribe []func()
}

func New(deps Deps) *Service {
	cfg := deps.Config
	log := deps.Logger
	if log == nil {
		log = logging.Nop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = scheduler.RealClock()
	}
	store := deps.Store
	if store == nil {
		store = localstore.NewMemoryStore()
	}

	bus := events.NewBus(log)
	repo := drafts.New(store, log)
	sess := session.New(store, bus, log)
	indicator := status.New(clock, bus, cfg.SavedStatusTTL)
	client := remote.New(remote.Options{
		URL:           cfg.EndpointURL,
		ContentOrg:    cfg.ContentOrg,
		SubmissionOrg: cfg.SubmissionOrg,
		Timeout:       cfg.RequestTimeout,
		HTTPClient:    deps.HTTPClient,
		Logger:        log,
	})
	engine := merge.NewEngine(client, repo, log)
	router := render.NewRouter(render.RouterOptions{
		Repo:     repo,
		Bus:      bus,
		Clock:    clock,
		Debounce: cfg.EditorDebounce,
		Verifier: client,
		Keys:     sess,
		Logger:   log,
	})
	assembler := submission.NewAssembler(repo, clock)
	submitter := submission.NewSubmitter(assembler, sess, client, indicator, log)

	svc := &Service{
		cfg:       cfg,
		log:       log.With("component", "app"),
		store:     store,
		bus:       bus,
		clock:     clock,
		repo:      repo,
		session:   sess,
		status:    indicator,
		remote:    client,
		merge:     engine,
		router:    router,
		assembler: assembler,
		submitter: submitter,
		autosave:  submission.NewAutoSaver(submitter, indicator, clock, cfg.AutoSaveDelay, cfg.RequestTimeout, log),
		backup: backup.New(backup.Options{
			Store:   store,
			Bus:     bus,
			Clock:   clock,
			History: deps.History,
			Archive: deps.Archive,
			Logger:  log,
		}),
		export: export.NewService(engine, sess, log),
	}
	svc.wire()
	return svc
}

// Open builds the service from configuration: the store backend and the
// optional backup sinks.
func Open(ctx context.Context, cfg config.Config, log *logging.Logger) (*Service, error) {
	store, err := localstore.Open(ctx, localstore.Options{
		Backend:       cfg.StoreBackend,
		Profile:       cfg.Profile,
		RedisURL:      cfg.RedisURL,
		DatabaseURL:   cfg.DatabaseURL,
		MigrationsDir: cfg.MigrationsDir,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	deps := Deps{Config: cfg, Store: store, Logger: log}
	if cfg.HistoryDir != "" {
		deps.History = gitrepo.New(cfg.HistoryDir, "portal-"+cfg.Profile)
	}
	if cfg.MinioEndpoint != "" {
		archive, err := backup.NewMinioArchive(backup.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			Profile:   cfg.Profile,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		deps.Archive = archive
	}
	return New(deps), nil
}

func (s *Service) wire() {
	s.unsubscribe = append(s.unsubscribe,
		s.autosave.Attach(s.bus),
		s.bus.Subscribe(events.IdentityChanged, func(ev events.Event) {
			change, _ := ev.Payload.(session.IdentityChange)
			if change.Present {
				s.status.SetAuth(change.Identity.Name)
			} else {
				s.status.SetAuth("")
			}
		}),
		s.bus.Subscribe(events.StoreImported, func(events.Event) {
			// Open captures hold pre-import content; drop them and re-read the identity.
			s.router.Reset()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.refreshAuth(ctx)
		}),
	)
}

// Init loads the stored identity into the status indicator.
func (s *Service) Init(ctx context.Context) {
	s.refreshAuth(ctx)
}

func (s *Service) refreshAuth(ctx context.Context) {
	id, ok, err := s.session.Identity(ctx)
	if err != nil {
		s.log.Warn("could not read identity", "error", err)
		return
	}
	if ok {
		s.status.SetAuth(id.Name)
	} else {
		s.status.SetAuth("")
	}
}

// Follow relays changes made by other clients of the same store until ctx is
// done: identity changes reach the status bar, answer changes the open captures.
func (s *Service) Follow(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.session.Follow(groupCtx) })
	if watcher, ok := s.store.(localstore.Watcher); ok {
		group.Go(func() error { return s.router.Follow(groupCtx, watcher) })
	}
	return group.Wait()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close writes pending drafts, runs a scheduled upload and closes the store.
func (s *Service) Close() error {
	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	s.router.FlushAll()
	s.autosave.Flush()
	s.autosave.Close()
	s.status.Close()
	return s.store.Close()
}

func (s *Service) Status() status.Snapshot {
	return s.status.Snapshot()
}

func (s *Service) Configured() bool {
	return s.remote.Configured()
}

// Page builds the assignment page. Failures are shown on the page itself.
func (s *Service) Page(ctx context.Context, ref drafts.Ref, variant string) render.PageData {
	data := s.page(ctx, ref, variant)
	snap := s.status.Snapshot()
	data.AuthLabel = snap.AuthLabel
	data.SaveLabel = snap.SaveLabel
	_, hasIdentity, err := s.session.Identity(ctx)
	data.NeedsIdentity = err == nil && !hasIdentity
	return data
}

func (s *Service) page(ctx context.Context, ref drafts.Ref, variant string) render.PageData {
	if ref.AssignmentID == "" || ref.SubID == "" {
		return render.ErrorPage(ref, "Keine assignmentId oder subId in der URL gefunden.", false)
	}
	definition, err := s.remote.FetchAssignment(ctx, ref.AssignmentID, variant)
	if err != nil {
		s.log.Warn("could not load assignment", "assignment_id", ref.AssignmentID, "error", err)
		return render.ErrorPage(ref, err.Error(), true)
	}
	sub, ok := definition.SubAssignments[ref.SubID]
	if !ok {
		return render.ErrorPage(ref, fmt.Sprintf("Teilaufgabe %q nicht gefunden.", ref.SubID), true)
	}

	capture, err := s.router.Open(ctx, ref, sub)
	if err != nil {
		var unknown *render.UnknownTypeError
		if errors.As(err, &unknown) {
			return render.ErrorPage(ref, unknown.Error(), false)
		}
		s.log.Error("could not open sub-assignment", "assignment_id", ref.AssignmentID, "sub_id", ref.SubID, "error", err)
		return render.ErrorPage(ref, err.Error(), false)
	}

	gate, hasGate := s.router.Gate(ref, sub)
	if hasGate {
		s.resumeGate(ctx, gate)
	}
	data := render.BuildPage(definition.Title, sub, capture, gate)
	if data.AssignmentTitle == "" {
		data.AssignmentTitle = merge.DefaultTitle(ref.AssignmentID)
	}
	return data
}

// resumeGate re-verifies a cached key in the background; the page renders
// "verifying" meanwhile.
func (s *Service) resumeGate(ctx context.Context, gate *render.SolutionGate) {
	key, ok := gate.Prepare(ctx)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), gateResumeTimeout)
		defer cancel()
		gate.Resume(ctx, key)
	}()
}

// AssignmentView is the JSON form of an open sub-assignment.
type AssignmentView struct {
	AssignmentID    string               `json:"assignmentId"`
	AssignmentTitle string               `json:"assignmentTitle"`
	Online          bool                 `json:"online"`
	SubAssignment   merge.SubView        `json:"subAssignment"`
	Drafts          map[string]string    `json:"drafts"`
	Solution        *render.GateSnapshot `json:"solution,omitempty"`
	Status          status.Snapshot      `json:"status"`
	Steps           []assignment.Step    `json:"steps,omitempty"`
}

// Assignment opens a sub-assignment from the merged view and reports its drafts.
func (s *Service) Assignment(ctx context.Context, ref drafts.Ref, variant string) (AssignmentView, error) {
	if err := ref.Validate(); err != nil {
		return AssignmentView{}, err
	}
	view := s.merge.Resolve(ctx, ref.AssignmentID, variant)
	sub, ok := view.SubAssignments[ref.SubID]
	if !ok {
		return AssignmentView{}, errSubAssignmentNotFound(ref.SubID)
	}
	definition := subAssignment(sub)
	capture, err := s.router.Open(ctx, ref, definition)
	if err != nil {
		return AssignmentView{}, err
	}

	out := AssignmentView{
		AssignmentID:    ref.AssignmentID,
		AssignmentTitle: view.Title,
		Online:          view.Online,
		SubAssignment:   sub,
		Drafts:          make(map[string]string),
		Status:          s.status.Snapshot(),
	}
	for _, slotID := range capture.SlotIDs() {
		slot, _ := capture.Slot(slotID)
		out.Drafts[slotID] = slot.Content()
	}
	if capture.Type() == assignment.TypeLawCase {
		out.Steps = assignment.LawCaseSteps
	}
	if gate, ok := s.router.Gate(ref, definition); ok {
		s.resumeGate(ctx, gate)
		snap := gate.Snapshot()
		out.Solution = &snap
	}
	return out, nil
}

func subAssignment(sub merge.SubView) assignment.SubAssignment {
	return assignment.SubAssignment{
		ID:        sub.ID,
		Title:     sub.Title,
		Type:      sub.Type,
		Questions: sub.Questions,
		CaseText:  sub.CaseText,
		Hints:     sub.Hints,
		Solution:  sub.Solution,
	}
}

// capture returns the open capture for ref, opening it from the merged view
// when the page was rendered by an earlier process.
func (s *Service) capture(ctx context.Context, ref drafts.Ref) (render.Capture, error) {
	if capture, ok := s.router.Lookup(ref); ok {
		return capture, nil
	}
	view := s.merge.Resolve(ctx, ref.AssignmentID, "")
	sub, ok := view.SubAssignments[ref.SubID]
	if !ok {
		sub = merge.SubView{ID: ref.SubID, Title: ref.SubID, Type: assignment.TypeQuill}
	}
	return s.router.Open(ctx, ref, subAssignment(sub))
}

// UpdateDraft applies an editor change. The write happens after the debounce window.
func (s *Service) UpdateDraft(ctx context.Context, ref drafts.Ref, slotID, content string) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	capture, err := s.capture(ctx, ref)
	if err != nil {
		return err
	}
	slot, ok := capture.Slot(slotID)
	if !ok {
		return errSlotNotFound(slotID)
	}
	slot.Update(content)
	return nil
}

// FlushDrafts writes a pending change of ref immediately.
func (s *Service) FlushDrafts(ref drafts.Ref) {
	if capture, ok := s.router.Lookup(ref); ok {
		capture.Flush()
	}
}

func (s *Service) Identity(ctx context.Context) (session.Identity, bool, error) {
	return s.session.Identity(ctx)
}

func (s *Service) SetIdentity(ctx context.Context, id session.Identity) (session.Identity, error) {
	return s.session.SetIdentity(ctx, id)
}

func (s *Service) ClearIdentity(ctx context.Context) error {
	return s.session.ClearIdentity(ctx)
}

// SubmitPreview is what the confirmation dialog shows.
type SubmitPreview struct {
	Klasse          string `json:"klasse"`
	Name            string `json:"name"`
	Identifier      string `json:"identifier"`
	AnswerCount     int    `json:"answerCount"`
	AssignmentCount int    `json:"assignmentCount"`
	Configured      bool   `json:"configured"`
	InProgress      bool   `json:"inProgress"`
}

func (s *Service) SubmitPreview(ctx context.Context) (SubmitPreview, error) {
	id, ok, err := s.session.Identity(ctx)
	if err != nil {
		return SubmitPreview{}, err
	}
	if !ok {
		return SubmitPreview{}, submission.ErrIdentityRequired
	}
	s.router.FlushAll()
	assembled, err := s.assembler.Assemble(ctx, id)
	if err != nil {
		return SubmitPreview{}, err
	}
	answers, assignments := assembled.Counts()
	return SubmitPreview{
		Klasse:          id.Klasse,
		Name:            id.Name,
		Identifier:      assembled.Identifier,
		AnswerCount:     answers,
		AssignmentCount: assignments,
		Configured:      s.remote.Configured(),
		InProgress:      s.submitter.InProgress(),
	}, nil
}

// Submit runs the interactive submission with a decision already taken by the student.
func (s *Service) Submit(ctx context.Context, decision submission.Decision) (submission.Outcome, error) {
	return s.SubmitWith(ctx, submission.FixedDecision(decision))
}

// SubmitWith runs the interactive submission with a custom confirmer, for the CLI prompt.
// A successful send replaces the silent upload the flushed drafts scheduled.
func (s *Service) SubmitWith(ctx context.Context, confirmer submission.Confirmer) (submission.Outcome, error) {
	s.router.FlushAll()
	checkpoint := s.autosave.Checkpoint()
	outcome, err := s.submitter.SubmitInteractive(ctx, confirmer)
	if err == nil && outcome == submission.OutcomeSent {
		s.autosave.Delivered(checkpoint)
	}
	return outcome, err
}

// gate returns the solution gate of ref, loading the server definition when needed.
func (s *Service) gate(ctx context.Context, ref drafts.Ref) (*render.SolutionGate, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if gate, ok := s.router.LookupGate(ref); ok {
		return gate, nil
	}
	definition, err := s.remote.FetchAssignment(ctx, ref.AssignmentID, "")
	if err != nil {
		return nil, err
	}
	sub, ok := definition.SubAssignments[ref.SubID]
	if !ok {
		return nil, errSubAssignmentNotFound(ref.SubID)
	}
	gate, ok := s.router.Gate(ref, sub)
	if !ok {
		return nil, errNoSolution
	}
	return gate, nil
}

func (s *Service) Solution(ctx context.Context, ref drafts.Ref) (render.GateSnapshot, error) {
	gate, err := s.gate(ctx, ref)
	if err != nil {
		return render.GateSnapshot{}, err
	}
	return gate.Snapshot(), nil
}

func (s *Service) VerifySolution(ctx context.Context, ref drafts.Ref, key string) (render.GateSnapshot, error) {
	gate, err := s.gate(ctx, ref)
	if err != nil {
		return render.GateSnapshot{}, err
	}
	return gate.Submit(ctx, key)
}

func (s *Service) Backup(ctx context.Context) (backup.File, error) {
	return s.backup.Export(ctx)
}

func (s *Service) Restore(ctx context.Context, r io.Reader) (int, error) {
	return s.backup.Import(ctx, r)
}

func (s *Service) Archive(ctx context.Context) (string, error) {
	return s.backup.Archive(ctx)
}

func (s *Service) RestoreArchive(ctx context.Context, objectName string) (int, error) {
	return s.backup.Restore(ctx, objectName)
}

func (s *Service) Archived(ctx context.Context) ([]backup.ArchivedObject, error) {
	return s.backup.Archived(ctx)
}

func (s *Service) History(limit int) ([]gitrepo.Revision, error) {
	return s.backup.History(limit)
}

func (s *Service) RestoreRevision(ctx context.Context, revision string) (int, error) {
	return s.backup.RestoreRevision(ctx, revision)
}

func (s *Service) Print(ctx context.Context, req export.Request) (*export.Result, error) {
	s.router.FlushAll()
	return s.export.Export(ctx, req)
}
