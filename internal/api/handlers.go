package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"partfinder/internal/store"
	"partfinder/internal/types"
)

// maxBodyBytes bounds the accepted submission size.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQueueLength(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.CountQueued(r.Context())
	if err != nil {
		s.logger.Error("failed to count queue", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read queue length")
		return
	}
	s.metrics.SetQueueDepth(n)
	writeJSON(w, http.StatusOK, map[string]int{"queue_length": n})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	result, err := s.ingestor.Submit(r.Context(), payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, createdView{
		ProjectID:          result.ProjectID,
		TruncationInfo:     result.TruncationInfo,
		ProcessingWarnings: result.Warnings,
	})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.CancelProject(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "project not found")
	case errors.Is(err, store.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "project is not cancellable in its current state")
	case err != nil:
		s.logger.Error("failed to cancel project", zap.String("project_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel project")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	project, err := s.store.GetProject(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load project", zap.String("project_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load project")
		return
	}

	switch project.Status {
	case types.StatusQueued:
		s.serveQueued(w, r, project)
	case types.StatusProcessing:
		s.serveProcessing(w, r, project)
	case types.StatusFinished:
		s.serveFinished(w, r, project)
	case types.StatusError:
		s.serveErrored(w, r, project)
	default:
		// Cancelled projects read as gone.
		writeError(w, http.StatusNotFound, "project not found")
	}
}

func (s *Server) serveQueued(w http.ResponseWriter, r *http.Request, project *types.Project) {
	position, total, err := s.store.GetQueueInfo(r.Context(), project.ProjectID)
	if err != nil {
		s.logger.Error("failed to read queue info", zap.String("project_id", project.ProjectID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read queue info")
		return
	}
	items, err := s.store.GetBomItems(r.Context(), project.ProjectID)
	if err != nil {
		s.logger.Error("failed to load bom items", zap.String("project_id", project.ProjectID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load bom items")
		return
	}

	components := make([]bomComponentView, len(items))
	for i, it := range items {
		components[i] = viewFromItem(it)
	}
	writeJSON(w, http.StatusOK, queuedView{
		Status:       string(project.Status),
		Position:     position,
		TotalInQueue: total,
		Bom: bomView[bomComponentView]{
			Components:         components,
			ProjectDescription: project.Description,
			ProjectName:        project.Name,
		},
	})
}

func (s *Server) serveProcessing(w http.ResponseWriter, r *http.Request, project *types.Project) {
	rows, err := s.store.GetFinishedProjectData(r.Context(), project.ProjectID)
	if err != nil {
		s.logger.Error("failed to load match rows", zap.String("project_id", project.ProjectID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load project data")
		return
	}

	components := make([]matchedComponentView, len(rows))
	for i, row := range rows {
		components[i] = viewFromRow(row)
	}
	writeJSON(w, http.StatusOK, processingView{
		Status: string(project.Status),
		Bom: bomView[matchedComponentView]{
			Components:         components,
			ProjectDescription: project.Description,
			ProjectName:        project.Name,
		},
	})
}

func (s *Server) serveFinished(w http.ResponseWriter, r *http.Request, project *types.Project) {
	rows, err := s.store.GetFinishedProjectData(r.Context(), project.ProjectID)
	if err != nil {
		s.logger.Error("failed to load match rows", zap.String("project_id", project.ProjectID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load project data")
		return
	}

	components := make([]matchedComponentView, len(rows))
	for i, row := range rows {
		view := viewFromRow(row)
		view.PotentialMatches = s.potentialMatches(r, row.Item.BomItemID)
		components[i] = view
	}
	writeJSON(w, http.StatusOK, finishedView{
		Status: string(project.Status),
		Bom: bomView[matchedComponentView]{
			Components:         components,
			ProjectDescription: project.Description,
			ProjectName:        project.Name,
		},
		Results: resultsView{
			StartTime: formatTimePtr(project.StartTime),
			EndTime:   formatTimePtr(project.EndTime),
			Status:    string(project.Status),
		},
	})
}

func (s *Server) serveErrored(w http.ResponseWriter, r *http.Request, project *types.Project) {
	items, err := s.store.GetBomItems(r.Context(), project.ProjectID)
	if err != nil {
		s.logger.Error("failed to load bom items", zap.String("project_id", project.ProjectID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load bom items")
		return
	}

	components := make([]bomComponentView, len(items))
	for i, it := range items {
		components[i] = viewFromItem(it)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": string(project.Status),
		"bom": bomView[bomComponentView]{
			Components:         components,
			ProjectDescription: project.Description,
			ProjectName:        project.Name,
		},
	})
}

// potentialMatches loads the ranked alternatives for one item, enriching each
// row with component data when linked, or via a distributor lookup when
// backfill is available. Enrichment failures degrade to the bare rank row.
func (s *Server) potentialMatches(r *http.Request, bomItemID int64) []potentialMatchView {
	pms, err := s.store.GetPotentialMatches(r.Context(), bomItemID)
	if err != nil {
		s.logger.Warn("failed to load potential matches", zap.Int64("bom_item_id", bomItemID), zap.Error(err))
		return nil
	}
	if len(pms) == 0 {
		return nil
	}

	views := make([]potentialMatchView, len(pms))
	for i, pm := range pms {
		view := potentialMatchView{
			Rank:                   pm.Rank,
			ManufacturerPartNumber: pm.ManufacturerPartNumber,
			Reason:                 pm.Reason,
			SelectionState:         string(pm.SelectionState),
		}
		if component := s.resolvePotential(r, pm); component != nil {
			view.fillFromComponent(component)
		}
		views[i] = view
	}
	return views
}

// resolvePotential returns the component behind a potential match: the linked
// row when present, otherwise a cache-first distributor lookup whose result
// is linked for subsequent reads.
func (s *Server) resolvePotential(r *http.Request, pm types.PotentialBomMatch) *types.Component {
	ctx := r.Context()

	if pm.ComponentID != nil {
		component, err := s.store.GetComponent(ctx, *pm.ComponentID)
		if err != nil {
			s.logger.Warn("failed to load linked component",
				zap.Int64("component_id", *pm.ComponentID), zap.Error(err))
			return nil
		}
		return component
	}

	if component, err := s.store.GetComponentByMpn(ctx, pm.ManufacturerPartNumber); err == nil {
		return component
	}

	if s.distributor == nil {
		return nil
	}
	part, err := s.distributor.SearchByMpn(ctx, pm.ManufacturerPartNumber)
	if err != nil {
		s.logger.Debug("potential match backfill failed",
			zap.String("mpn", pm.ManufacturerPartNumber), zap.Error(err))
		return nil
	}
	component, err := s.store.GetOrCreateComponent(ctx, part, "")
	if err != nil {
		s.logger.Warn("failed to persist backfilled component",
			zap.String("mpn", pm.ManufacturerPartNumber), zap.Error(err))
		return nil
	}
	if err := s.store.LinkPotentialMatch(ctx, pm.PotentialMatchID, component.ComponentID); err != nil {
		s.logger.Warn("failed to link potential match",
			zap.Int64("potential_match_id", pm.PotentialMatchID), zap.Error(err))
	}
	return component
}
