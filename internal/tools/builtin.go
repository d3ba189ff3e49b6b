package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

// Workspace is the project state the built-in handlers read and change.
type Workspace interface {
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)
	RenameProject(ctx context.Context, projectID, name string) (bool, error)
	ListAssets(ctx context.Context, projectID string, kind domain.AssetKind, limit int) ([]domain.Asset, error)
	GetAsset(ctx context.Context, assetID string) (*domain.Asset, error)
	DeleteAssets(ctx context.Context, projectID string, assetIDs []string) ([]string, error)
	CreateGenerationJob(ctx context.Context, job *domain.GenerationJob, assets []domain.Asset) error
	ListClips(ctx context.Context, projectID string) ([]domain.Clip, error)
	GetClip(ctx context.Context, clipID string) (*domain.Clip, error)
	CreateClip(ctx context.Context, clip *domain.Clip) error
	UpdateClip(ctx context.Context, clip *domain.Clip) error
	DeleteClip(ctx context.Context, projectID, clipID string) (bool, error)
}

// RegisterBuiltins binds a handler for every operation in the embedded catalog.
func RegisterBuiltins(r *Registry, ws Workspace) {
	b := &builtins{ws: ws}
	r.MustRegister("get_project", b.getProject)
	r.MustRegister("list_assets", b.listAssets)
	r.MustRegister("get_timeline", b.getTimeline)
	r.MustRegister("generate_image", b.generate(domain.AssetKindImage))
	r.MustRegister("generate_video", b.generate(domain.AssetKindVideo))
	r.MustRegister("generate_audio", b.generate(domain.AssetKindAudio))
	r.MustRegister("add_clip", b.addClip)
	r.MustRegister("update_clip", b.updateClip)
	r.MustRegister("rename_project", b.renameProject)
	r.MustRegister("delete_asset", b.deleteAsset)
	r.MustRegister("remove_clip", b.removeClip)
}

type builtins struct {
	ws Workspace
}

func (b *builtins) getProject(ctx context.Context, call Call) (Result, error) {
	project, err := b.ws.GetProject(ctx, call.ProjectID)
	if err != nil {
		return Result{}, err
	}
	if project == nil {
		return Result{}, fmt.Errorf("project %s not found", call.ProjectID)
	}
	assets, err := b.ws.ListAssets(ctx, call.ProjectID, "", 1000)
	if err != nil {
		return Result{}, err
	}
	clips, err := b.ws.ListClips(ctx, call.ProjectID)
	if err != nil {
		return Result{}, err
	}
	byKind := map[domain.AssetKind]int{}
	for _, a := range assets {
		byKind[a.Kind]++
	}
	var durationMs int64
	for _, c := range clips {
		if end := c.StartMs + c.DurationMs; end > durationMs {
			durationMs = end
		}
	}
	return Result{Data: map[string]any{
		"project_id":           project.ProjectID,
		"name":                 project.Name,
		"asset_counts":         byKind,
		"clip_count":           len(clips),
		"timeline_duration_ms": durationMs,
	}}, nil
}

func (b *builtins) listAssets(ctx context.Context, call Call) (Result, error) {
	limit := 20
	if n, ok := ArgInt(call.Args, "limit"); ok {
		limit = int(n)
	}
	assets, err := b.ws.ListAssets(ctx, call.ProjectID, domain.AssetKind(ArgString(call.Args, "kind")), limit)
	if err != nil {
		return Result{}, err
	}
	if assets == nil {
		assets = []domain.Asset{}
	}
	return Result{Data: map[string]any{"assets": assets}}, nil
}

func (b *builtins) getTimeline(ctx context.Context, call Call) (Result, error) {
	clips, err := b.ws.ListClips(ctx, call.ProjectID)
	if err != nil {
		return Result{}, err
	}
	if clips == nil {
		clips = []domain.Clip{}
	}
	return Result{Data: map[string]any{"clips": clips}}, nil
}

// generate queues a generation job and creates placeholder assets that a
// media backend fills in later.
func (b *builtins) generate(kind domain.AssetKind) HandlerFunc {
	return func(ctx context.Context, call Call) (Result, error) {
		prompt := ArgString(call.Args, "prompt")
		if kind == domain.AssetKindAudio {
			prompt = ArgString(call.Args, "text")
		}

		refs := ArgStrings(call.Args, "reference_asset_ids")
		if id := ArgString(call.Args, "image_asset_id"); id != "" {
			refs = append(refs, id)
		}
		for _, id := range refs {
			if err := b.requireAsset(ctx, call.ProjectID, id, domain.AssetKindImage); err != nil {
				return Result{}, err
			}
		}

		count := 1
		if n, ok := ArgInt(call.Args, "count"); ok && kind == domain.AssetKindImage {
			count = int(n)
		}

		params, err := json.Marshal(call.Args)
		if err != nil {
			return Result{}, fmt.Errorf("failed to encode params: %w", err)
		}
		now := time.Now()
		job := &domain.GenerationJob{
			JobID:     "job_" + uuid.New().String()[:8],
			ProjectID: call.ProjectID,
			Operation: "generate_" + string(kind),
			Params:    string(params),
			Status:    "queued",
			CreatedAt: now,
		}
		assets := make([]domain.Asset, 0, count)
		assetIDs := make([]string, 0, count)
		for i := 0; i < count; i++ {
			a := domain.Asset{
				AssetID:   "ast_" + uuid.New().String()[:8],
				ProjectID: call.ProjectID,
				Kind:      kind,
				Name:      assetName(prompt, i, count),
				Status:    domain.AssetStatusProcessing,
				Prompt:    prompt,
				JobID:     job.JobID,
				CreatedAt: now,
			}
			assets = append(assets, a)
			assetIDs = append(assetIDs, a.AssetID)
		}
		if err := b.ws.CreateGenerationJob(ctx, job, assets); err != nil {
			return Result{}, err
		}
		return Result{
			Data: map[string]any{
				"job_id":    job.JobID,
				"asset_ids": assetIDs,
				"status":    job.Status,
			},
			SideEffectRef: job.JobID,
		}, nil
	}
}

func (b *builtins) addClip(ctx context.Context, call Call) (Result, error) {
	assetID := ArgString(call.Args, "asset_id")
	if err := b.requireAsset(ctx, call.ProjectID, assetID, ""); err != nil {
		return Result{}, err
	}
	clip := &domain.Clip{
		ClipID:    "clip_" + uuid.New().String()[:8],
		ProjectID: call.ProjectID,
		AssetID:   assetID,
		CreatedAt: time.Now(),
	}
	if n, ok := ArgInt(call.Args, "track"); ok {
		clip.Track = int(n)
	}
	clip.StartMs, _ = ArgInt(call.Args, "start_ms")
	clip.DurationMs, _ = ArgInt(call.Args, "duration_ms")
	if err := b.ws.CreateClip(ctx, clip); err != nil {
		return Result{}, err
	}
	return Result{Data: clip, SideEffectRef: clip.ClipID}, nil
}

func (b *builtins) updateClip(ctx context.Context, call Call) (Result, error) {
	clip, err := b.ws.GetClip(ctx, ArgString(call.Args, "clip_id"))
	if err != nil {
		return Result{}, err
	}
	if clip == nil || clip.ProjectID != call.ProjectID {
		return Result{}, fmt.Errorf("clip %s not found", ArgString(call.Args, "clip_id"))
	}
	if n, ok := ArgInt(call.Args, "track"); ok {
		clip.Track = int(n)
	}
	if n, ok := ArgInt(call.Args, "start_ms"); ok {
		clip.StartMs = n
	}
	if n, ok := ArgInt(call.Args, "duration_ms"); ok {
		clip.DurationMs = n
	}
	if err := b.ws.UpdateClip(ctx, clip); err != nil {
		return Result{}, err
	}
	return Result{Data: clip, SideEffectRef: clip.ClipID}, nil
}

func (b *builtins) renameProject(ctx context.Context, call Call) (Result, error) {
	name := ArgString(call.Args, "name")
	updated, err := b.ws.RenameProject(ctx, call.ProjectID, name)
	if err != nil {
		return Result{}, err
	}
	if !updated {
		return Result{}, fmt.Errorf("project %s not found", call.ProjectID)
	}
	return Result{Data: map[string]any{"project_id": call.ProjectID, "name": name}, SideEffectRef: call.ProjectID}, nil
}

func (b *builtins) deleteAsset(ctx context.Context, call Call) (Result, error) {
	deleted, err := b.ws.DeleteAssets(ctx, call.ProjectID, ArgStrings(call.Args, "asset_ids"))
	if err != nil {
		return Result{}, err
	}
	if len(deleted) == 0 {
		return Result{}, errors.New("none of the assets exist in this project")
	}
	return Result{
		Data:          map[string]any{"deleted_asset_ids": deleted},
		SideEffectRef: strings.Join(deleted, ","),
	}, nil
}

func (b *builtins) removeClip(ctx context.Context, call Call) (Result, error) {
	clipID := ArgString(call.Args, "clip_id")
	removed, err := b.ws.DeleteClip(ctx, call.ProjectID, clipID)
	if err != nil {
		return Result{}, err
	}
	if !removed {
		return Result{}, fmt.Errorf("clip %s not found", clipID)
	}
	return Result{Data: map[string]any{"removed_clip_id": clipID}, SideEffectRef: clipID}, nil
}

func (b *builtins) requireAsset(ctx context.Context, projectID, assetID string, kind domain.AssetKind) error {
	asset, err := b.ws.GetAsset(ctx, assetID)
	if err != nil {
		return err
	}
	if asset == nil || asset.ProjectID != projectID {
		return fmt.Errorf("asset %s not found", assetID)
	}
	if kind != "" && asset.Kind != kind {
		return fmt.Errorf("asset %s is a %s, expected %s", assetID, asset.Kind, kind)
	}
	return nil
}

func assetName(prompt string, i, count int) string {
	name := prompt
	if len(name) > 40 {
		name = strings.TrimSpace(name[:40]) + "..."
	}
	if count > 1 {
		name = fmt.Sprintf("%s (%d)", name, i+1)
	}
	return name
}
