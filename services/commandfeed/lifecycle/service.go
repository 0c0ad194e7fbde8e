// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lifecycle drives privacy commands from ingestion through
// checkpointed processing to global completion.
//
// # Description
//
// The Service owns the checkpoint state machine. Each (command, asset
// group) pair holds at most one honored lease; a checkpoint must present
// the receipt for that lease, and a successful checkpoint supersedes it
// with a fresh one. Status transitions: Pending and SoftDelete extend the
// lease, Failed and the verification failures re-pend with a jittered
// delay, everything else is terminal for the asset group.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/commandfeed/pkg/retry"
	"github.com/AleutianAI/commandfeed/services/commandfeed/agentmap"
	"github.com/AleutianAI/commandfeed/services/commandfeed/applicability"
	"github.com/AleutianAI/commandfeed/services/commandfeed/datatypes"
	"github.com/AleutianAI/commandfeed/services/commandfeed/history"
)

// =============================================================================
// Configuration
// =============================================================================

// Config tunes lease and retry timing for the lifecycle service.
type Config struct {
	SigningKey []byte `yaml:"-"`

	// DefaultLeaseDuration is used when a checkpoint requests no extension.
	DefaultLeaseDuration time.Duration `yaml:"defaultLeaseDuration"`

	// MaxLeaseExtension caps what an agent may request per checkpoint.
	MaxLeaseExtension time.Duration `yaml:"maxLeaseExtension"`

	// FailedRetryDelay delays redelivery after a Failed checkpoint.
	FailedRetryDelay time.Duration `yaml:"failedRetryDelay"`

	// VerificationRetryDelay delays redelivery after verification failures.
	// Longer than FailedRetryDelay: verifier outages take a while to clear.
	VerificationRetryDelay time.Duration `yaml:"verificationRetryDelay"`

	// JitterRate spreads delays and extensions across +/- this fraction.
	JitterRate float64 `yaml:"jitterRate"`

	// CommandMaxLifespan bounds how long most commands stay actionable;
	// AccountCloseMaxLifespan applies to account close commands instead.
	CommandMaxLifespan      time.Duration `yaml:"commandMaxLifespan"`
	AccountCloseMaxLifespan time.Duration `yaml:"accountCloseMaxLifespan"`

	// BulkParallelism bounds concurrent items in a bulk checkpoint.
	BulkParallelism int `yaml:"bulkParallelism"`
}

// DefaultConfig returns production timing defaults.
func DefaultConfig() Config {
	return Config{
		DefaultLeaseDuration:    15 * time.Minute,
		MaxLeaseExtension:       24 * time.Hour,
		FailedRetryDelay:        10 * time.Minute,
		VerificationRetryDelay:  time.Hour,
		JitterRate:              0.33,
		CommandMaxLifespan:      30 * 24 * time.Hour,
		AccountCloseMaxLifespan: 90 * 24 * time.Hour,
		BulkParallelism:         8,
	}
}

// MapSource yields the current agent map snapshot. Satisfied by
// agentmap.Factory; tests substitute fixed snapshots.
type MapSource interface {
	Get() *agentmap.Map
}

// =============================================================================
// Service
// =============================================================================

// Service implements the command lifecycle operations.
//
// # Thread Safety
//
// Safe for concurrent use. Write races on one status record are resolved by
// the store's etag compare: the loser gets a conflict.
type Service struct {
	store     history.Store
	maps      MapSource
	evaluator *applicability.Evaluator
	issuer    *LeaseIssuer
	retries   *retry.Manager
	logger    *slog.Logger
	cfg       Config

	now func() time.Time
	rnd func() float64
}

// NewService wires the lifecycle service. Nil logger and retries fall back
// to defaults.
func NewService(store history.Store, maps MapSource, evaluator *applicability.Evaluator, cfg Config, logger *slog.Logger, retries *retry.Manager) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if retries == nil {
		retries = retry.NewManager(nil, nil)
	}
	if cfg.DefaultLeaseDuration <= 0 {
		cfg.DefaultLeaseDuration = DefaultConfig().DefaultLeaseDuration
	}
	if cfg.BulkParallelism <= 0 {
		cfg.BulkParallelism = DefaultConfig().BulkParallelism
	}
	return &Service{
		store:     store,
		maps:      maps,
		evaluator: evaluator,
		issuer:    NewLeaseIssuer(cfg.SigningKey),
		retries:   retries,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		rnd:       rand.Float64,
	}
}

// =============================================================================
// Ingestion
// =============================================================================

// Disposition is the ingestion outcome for one (command, asset group) pair.
type Disposition struct {
	AgentID      string                   `json:"agentId"`
	AssetGroupID string                   `json:"assetGroupId"`
	Applicable   bool                     `json:"applicable"`
	Reason       applicability.ReasonCode `json:"reason"`
	Variants     []string                 `json:"variants,omitempty"`
	LeaseReceipt string                   `json:"-"`
}

// IngestResult summarizes an ingested command.
type IngestResult struct {
	CommandID    string        `json:"commandId"`
	RosterSize   int           `json:"rosterSize"`
	Dispositions []Disposition `json:"dispositions"`
}

// Ingest evaluates the command against every asset group in the current
// map snapshot, fixes the roster, and writes the history records.
//
// # Description
//
// The roster is fixed at ingestion: asset groups added to the map later
// never join an in-flight command. Each applicable pair gets a status
// record with an initial lease. A command with an empty roster is globally
// complete immediately.
func (s *Service) Ingest(ctx context.Context, cmd datatypes.PrivacyCommand) (*IngestResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, newError(CodeInvalidCommand, "%v", err)
	}
	snapshot := s.maps.Get()
	if snapshot == nil {
		return nil, newError(CodeMapUnavailable, "agent map not initialized")
	}
	header := cmd.Header()

	type member struct {
		ag     *datatypes.AssetGroupInfo
		result applicability.Result
	}
	var roster []member
	result := &IngestResult{CommandID: header.CommandID}
	for _, ag := range snapshot.AssetGroups() {
		applicable, decision, err := s.evaluator.IsCommandActionable(cmd, ag)
		if err != nil {
			return nil, newError(CodeInvalidCommand, "%v", err)
		}
		disposition := Disposition{
			AgentID:      ag.AgentID,
			AssetGroupID: ag.AssetGroupID,
			Applicable:   applicable,
			Reason:       decision.Reason,
			Variants:     decision.AgentAppliedVariantIDs,
		}
		result.Dispositions = append(result.Dispositions, disposition)
		if applicable {
			roster = append(roster, member{ag: ag, result: decision})
		}
	}
	result.RosterSize = len(roster)

	raw, err := datatypes.MarshalCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("encoding command: %w", err)
	}
	var subject json.RawMessage
	if header.Subject != nil {
		subject, _ = datatypes.MarshalSubject(header.Subject)
	}

	total := len(roster)
	ingested := 0
	completed := 0
	core := &datatypes.CommandHistoryCoreRecord{
		CommandID:             header.CommandID,
		CommandType:           cmd.Kind(),
		Subject:               subject,
		CreatedTime:           s.now().UTC(),
		RawCommand:            raw,
		TotalCommandCount:     &total,
		IngestedCommandCount:  &ingested,
		CompletedCommandCount: &completed,
	}
	if err := s.createCore(ctx, core); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	for i := range roster {
		m := roster[i]
		expires := now.Add(jittered(s.cfg.DefaultLeaseDuration, s.cfg.JitterRate, s.rnd))
		receipt, leaseID, err := s.issuer.Issue(header.CommandID, m.ag.AgentID, m.ag.AssetGroupID, cmd.Kind(), "", expires)
		if err != nil {
			return nil, fmt.Errorf("issuing lease: %w", err)
		}
		ingestionTime := now
		status := &datatypes.CommandHistoryAssetGroupStatusRecord{
			CommandID:       header.CommandID,
			AgentID:         m.ag.AgentID,
			AssetGroupID:    m.ag.AssetGroupID,
			IngestionTime:   &ingestionTime,
			LastStatus:      datatypes.StatusPending,
			LeaseID:         leaseID,
			LeaseExpiration: &expires,
		}
		if err := s.store.CreateStatus(ctx, status); err != nil {
			return nil, fmt.Errorf("creating status for asset group %s: %w", m.ag.AssetGroupID, err)
		}
		ingested++
		s.setDispositionReceipt(result, m.ag.AssetGroupID, receipt)

		if exp, ok := cmd.(*datatypes.ExportCommand); ok && exp.DestinationURI != "" {
			dest := &datatypes.CommandHistoryExportDestinationRecord{
				CommandID:       header.CommandID,
				AgentID:         m.ag.AgentID,
				AssetGroupID:    m.ag.AssetGroupID,
				DestinationURI:  exp.DestinationURI,
				DestinationPath: exp.DestinationPath,
			}
			if err := s.store.CreateExportDestination(ctx, dest); err != nil && !errors.Is(err, history.ErrAlreadyExists) {
				return nil, fmt.Errorf("creating export destination: %w", err)
			}
		}
	}

	// Finalize the counters; an empty roster completes the command here.
	if err := s.replaceCoreWithRetry(ctx, header.CommandID, func(c *datatypes.CommandHistoryCoreRecord) {
		c.IngestedCommandCount = &ingested
		c.IsGloballyComplete = total == 0
	}); err != nil {
		return nil, err
	}

	s.logger.Info("command ingested",
		"command_id", header.CommandID,
		"command_type", string(cmd.Kind()),
		"roster_size", total,
		"evaluated", len(result.Dispositions))
	return result, nil
}

func (s *Service) setDispositionReceipt(result *IngestResult, assetGroupID, receipt string) {
	for i := range result.Dispositions {
		if result.Dispositions[i].AssetGroupID == assetGroupID {
			result.Dispositions[i].LeaseReceipt = receipt
			return
		}
	}
}

func (s *Service) createCore(ctx context.Context, core *datatypes.CommandHistoryCoreRecord) error {
	err := s.retries.Do(ctx, "lifecycle.createCore", func(ctx context.Context) error {
		return s.store.CreateCore(ctx, core)
	})
	if errors.Is(err, history.ErrAlreadyExists) {
		return newError(CodeInvalidCommand, "command %s already ingested", core.CommandID)
	}
	return err
}

// =============================================================================
// Checkpoint
// =============================================================================

// Checkpoint applies one agent progress report.
//
// # Description
//
// Verifies the lease receipt (signature, expiry, agent identity, lease
// freshness), validates claimed variants against the asset group's
// agent-applied set, applies the status transition, and persists the
// updated record under the etag read at the start. On success the response
// carries a fresh receipt superseding the presented one; terminal statuses
// return no receipt.
func (s *Service) Checkpoint(ctx context.Context, agentID string, req *datatypes.CheckpointRequest) (*datatypes.CheckpointResponse, error) {
	status, err := datatypes.ParseCommandStatus(req.Status)
	if err != nil {
		return nil, newError(CodeInvalidStatus, "%v", err)
	}
	if len(req.AgentState) > datatypes.MaxAgentStateLength {
		return nil, newError(CodeAgentStateTooLarge, "agent state is %d bytes, limit %d",
			len(req.AgentState), datatypes.MaxAgentStateLength)
	}
	extension := time.Duration(req.LeaseExtension) * time.Second
	if extension < 0 || (s.cfg.MaxLeaseExtension > 0 && extension > s.cfg.MaxLeaseExtension) {
		return nil, newError(CodeInvalidLeaseExtension, "requested extension %s outside [0, %s]",
			extension, s.cfg.MaxLeaseExtension)
	}

	claims, err := s.issuer.Parse(req.LeaseReceipt)
	if err != nil {
		return nil, err
	}
	if claims.CommandID != req.CommandID {
		return nil, newError(CodeCommandMismatch, "receipt is for command %s, request names %s",
			claims.CommandID, req.CommandID)
	}
	if agentID != "" && claims.AgentID != agentID {
		return nil, newError(CodeAgentMismatch, "receipt belongs to agent %s", claims.AgentID)
	}

	core, _, err := s.store.ReadCore(ctx, req.CommandID)
	if errors.Is(err, history.ErrNotFound) {
		return nil, newError(CodeCommandNotFound, "command %s not found", req.CommandID)
	}
	if err != nil {
		return nil, err
	}
	if s.commandExpired(core) {
		return nil, newError(CodeCommandExpired, "command %s exceeded its maximum lifespan", req.CommandID)
	}

	record, etag, err := s.store.ReadStatus(ctx, req.CommandID, claims.AssetGroupID)
	if errors.Is(err, history.ErrNotFound) {
		return nil, newError(CodeCommandNotFound, "command %s has no roster entry for asset group %s",
			req.CommandID, claims.AssetGroupID)
	}
	if err != nil {
		return nil, err
	}
	if record.CompletedTime != nil || record.ForceCompleted || record.Delinked {
		return nil, newError(CodeAlreadyCompleted, "command %s already finished for asset group %s",
			req.CommandID, claims.AssetGroupID)
	}
	if record.LeaseID != claims.LeaseID() {
		// A newer receipt was already honored; this one is superseded.
		return nil, newError(CodeLeaseConflict, "lease receipt superseded for command %s", req.CommandID)
	}
	if err := s.validateClaimedVariants(record, req.Variants); err != nil {
		return nil, err
	}

	response := &datatypes.CheckpointResponse{}
	now := s.now().UTC()
	record.LastStatus = status
	record.AffectedRows = &req.RowCount
	record.ClaimVariants(req.Variants)
	if req.AgentState != "" {
		record.AgentState = req.AgentState
	}
	if len(req.NonTransientFailures) > 0 {
		record.NonTransientFailures = append(record.NonTransientFailures, req.NonTransientFailures...)
	}

	switch status {
	case datatypes.StatusPending, datatypes.StatusSoftDelete:
		if status == datatypes.StatusSoftDelete && record.SoftDeleteTime == nil {
			record.SoftDeleteTime = &now
		}
		if err := s.extendLease(record, claims, extension, response); err != nil {
			return nil, err
		}

	case datatypes.StatusFailed:
		s.rePend(record, claims, s.cfg.FailedRetryDelay, response)

	case datatypes.StatusVerificationFailed, datatypes.StatusUnexpectedVerificationFailure:
		s.rePend(record, claims, s.cfg.VerificationRetryDelay, response)

	case datatypes.StatusUnexpectedCommand:
		// The agent says this command should never have reached it. Trust
		// but verify: if the current asset group configuration agrees, the
		// engine completes the pair; if the command is still applicable,
		// redeliver it after the usual failure delay.
		if s.stillApplicable(core, claims.AssetGroupID) {
			s.rePend(record, claims, s.cfg.FailedRetryDelay, response)
		} else {
			record.CompletedTime = &now
		}

	case datatypes.StatusComplete, datatypes.StatusDeidentify, datatypes.StatusUnsupportedCloudInstance:
		if record.CompletedTime == nil {
			record.CompletedTime = &now
		}
		if !s.agentIsProduction(claims.AgentID) {
			record.NonAuthoritative = true
		}
		record.LeaseID = ""
		record.LeaseExpiration = nil
		record.NextVisibleTime = nil
		if len(req.ExportedFileSizeDetails) > 0 {
			s.logExportedFiles(req.CommandID, claims.AssetGroupID, req.ExportedFileSizeDetails)
		}
	}

	if err := s.store.ReplaceStatus(ctx, record, etag); err != nil {
		if errors.Is(err, history.ErrConflict) {
			return nil, newError(CodeLeaseConflict, "concurrent checkpoint for command %s", req.CommandID)
		}
		return nil, err
	}

	if record.IsTerminal() {
		s.recomputeCompletion(ctx, req.CommandID)
	}
	s.logger.Info("checkpoint applied",
		"command_id", req.CommandID,
		"agent_id", claims.AgentID,
		"asset_group_id", claims.AssetGroupID,
		"status", string(status),
		"row_count", req.RowCount)
	return response, nil
}

// extendLease issues the superseding receipt for a still-open pair.
func (s *Service) extendLease(record *datatypes.CommandHistoryAssetGroupStatusRecord, claims *LeaseClaims, extension time.Duration, response *datatypes.CheckpointResponse) error {
	if extension <= 0 {
		extension = s.cfg.DefaultLeaseDuration
	}
	expires := s.now().UTC().Add(jittered(extension, s.cfg.JitterRate, s.rnd))
	receipt, leaseID, err := s.issuer.Issue(claims.CommandID, claims.AgentID, claims.AssetGroupID,
		datatypes.CommandType(claims.CommandType), claims.Moniker, expires)
	if err != nil {
		return fmt.Errorf("issuing lease: %w", err)
	}
	record.LeaseID = leaseID
	record.LeaseExpiration = &expires
	record.NextVisibleTime = nil
	response.LeaseReceipt = receipt
	return nil
}

// agentIsProduction reports whether completions from the agent are
// authoritative. Agents missing from the current snapshot keep their
// historical production standing.
func (s *Service) agentIsProduction(agentID string) bool {
	snapshot := s.maps.Get()
	if snapshot == nil {
		return true
	}
	agent, ok := snapshot.Agent(agentID)
	if !ok {
		return true
	}
	return agent.IsProduction()
}

// rePend schedules redelivery after a jittered delay. The fresh receipt is
// still returned so a recovering agent can resume without re-querying.
func (s *Service) rePend(record *datatypes.CommandHistoryAssetGroupStatusRecord, claims *LeaseClaims, delay time.Duration, response *datatypes.CheckpointResponse) {
	visible := s.now().UTC().Add(jittered(delay, s.cfg.JitterRate, s.rnd))
	record.NextVisibleTime = &visible
	expires := visible.Add(s.cfg.DefaultLeaseDuration)
	receipt, leaseID, err := s.issuer.Issue(claims.CommandID, claims.AgentID, claims.AssetGroupID,
		datatypes.CommandType(claims.CommandType), claims.Moniker, expires)
	if err != nil {
		// Leave the old lease honored; the agent retries the checkpoint.
		s.logger.Error("lease issue failed during re-pend", "command_id", claims.CommandID, "error", err)
		return
	}
	record.LeaseID = leaseID
	record.LeaseExpiration = &expires
	response.LeaseReceipt = receipt
}

// validateClaimedVariants enforces that every claimed variant is one the
// asset group's owner actually registered as agent-applied. Variants
// already on the record are grandfathered (idempotent re-claims).
func (s *Service) validateClaimedVariants(record *datatypes.CommandHistoryAssetGroupStatusRecord, claimed []string) error {
	if len(claimed) == 0 {
		return nil
	}
	snapshot := s.maps.Get()
	if snapshot == nil {
		return newError(CodeMapUnavailable, "agent map not initialized")
	}
	ag, ok := snapshot.AssetGroup(record.AssetGroupID)
	if !ok {
		return newError(CodeInvalidVariants, "asset group %s not registered", record.AssetGroupID)
	}
	for _, id := range claimed {
		if containsVariant(record.ClaimedVariants, id) {
			continue
		}
		found := false
		for i := range ag.VariantInfosAppliedByAgents {
			if ag.VariantInfosAppliedByAgents[i].VariantID == id {
				found = true
				break
			}
		}
		if !found {
			return newError(CodeInvalidVariants, "variant %s is not agent-applied for asset group %s",
				id, record.AssetGroupID)
		}
	}
	return nil
}

func containsVariant(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// stillApplicable re-runs applicability for one roster member against the
// current snapshot, for UnexpectedCommand arbitration.
func (s *Service) stillApplicable(core *datatypes.CommandHistoryCoreRecord, assetGroupID string) bool {
	snapshot := s.maps.Get()
	if snapshot == nil {
		return false
	}
	ag, ok := snapshot.AssetGroup(assetGroupID)
	if !ok {
		return false
	}
	cmd, err := datatypes.UnmarshalCommand(core.RawCommand)
	if err != nil {
		s.logger.Error("stored command no longer decodes", "command_id", core.CommandID, "error", err)
		return false
	}
	applicable, _, err := s.evaluator.IsCommandActionable(cmd, ag)
	return err == nil && applicable
}

func (s *Service) commandExpired(core *datatypes.CommandHistoryCoreRecord) bool {
	lifespan := s.cfg.CommandMaxLifespan
	if core.CommandType == datatypes.CommandTypeAccountClose {
		lifespan = s.cfg.AccountCloseMaxLifespan
	}
	if lifespan <= 0 {
		return false
	}
	return s.now().Sub(core.CreatedTime) > lifespan
}

func (s *Service) logExportedFiles(commandID, assetGroupID string, details []datatypes.ExportedFileSizeDetail) {
	var original, compressed int64
	for _, d := range details {
		original += d.OriginalSize
		compressed += d.CompressedSize
	}
	s.logger.Info("export files reported",
		"command_id", commandID,
		"asset_group_id", assetGroupID,
		"files", len(details),
		"original_bytes", original,
		"compressed_bytes", compressed)
}

// recomputeCompletion re-derives the core record's completion inline.
// Losing the etag race is fine; the sweeper reconciles on its next pass.
func (s *Service) recomputeCompletion(ctx context.Context, commandID string) {
	core, etag, err := s.store.ReadCore(ctx, commandID)
	if err != nil {
		s.logger.Warn("completion recompute read failed", "command_id", commandID, "error", err)
		return
	}
	if core.IsGloballyComplete {
		return
	}
	statuses, err := s.store.ListStatuses(ctx, commandID)
	if err != nil {
		s.logger.Warn("completion recompute list failed", "command_id", commandID, "error", err)
		return
	}
	terminal := history.CountTerminal(statuses)
	core.CompletedCommandCount = &terminal
	core.IsGloballyComplete = history.Recompute(core, statuses)
	if err := s.store.ReplaceCore(ctx, core, etag); err != nil && !errors.Is(err, history.ErrConflict) {
		s.logger.Warn("completion recompute write failed", "command_id", commandID, "error", err)
	}
	if core.IsGloballyComplete {
		s.logger.Info("command globally complete", "command_id", commandID, "roster_size", len(statuses))
	}
}

func (s *Service) replaceCoreWithRetry(ctx context.Context, commandID string, mutate func(*datatypes.CommandHistoryCoreRecord)) error {
	return s.retries.Do(ctx, "lifecycle.replaceCore", func(ctx context.Context) error {
		core, etag, err := s.store.ReadCore(ctx, commandID)
		if err != nil {
			return err
		}
		mutate(core)
		return s.store.ReplaceCore(ctx, core, etag)
	})
}

// =============================================================================
// Bulk Checkpoint
// =============================================================================

// BulkCheckpoint completes many commands in one call.
//
// # Description
//
// Items run with bounded parallelism and complete independently: one bad
// receipt or conflict never aborts the rest. The response carries exactly
// one result per submitted item, in input order.
func (s *Service) BulkCheckpoint(ctx context.Context, agentID string, req *datatypes.BulkCheckpointRequest) *datatypes.BulkCheckpointResponse {
	results := make([]datatypes.BulkCheckpointResult, len(req.Items))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BulkParallelism)
	for i := range req.Items {
		item := req.Items[i]
		index := i
		g.Go(func() error {
			results[index] = datatypes.BulkCheckpointResult{ID: item.ID}
			_, err := s.Checkpoint(ctx, agentID, &datatypes.CheckpointRequest{
				Status:                  string(datatypes.StatusComplete),
				RowCount:                item.RowCount,
				CommandID:               item.ID,
				LeaseReceipt:            item.LeaseReceipt,
				Variants:                item.VariantIDs,
				NonTransientFailures:    item.NonTransientFailures,
				ExportedFileSizeDetails: item.ExportedFileSizeDetails,
			})
			if err != nil {
				results[index].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return &datatypes.BulkCheckpointResponse{Results: results}
}

// =============================================================================
// Force Complete
// =============================================================================

// ForceComplete terminates one roster member by operator override.
//
// # Description
//
// Bypasses lease checks. Idempotent: forcing an already-terminal pair is a
// no-op success. The record keeps its last natural status so the override
// stays visible in the history.
func (s *Service) ForceComplete(ctx context.Context, commandID, agentID, assetGroupID string) error {
	record, etag, err := s.store.ReadStatus(ctx, commandID, assetGroupID)
	if errors.Is(err, history.ErrNotFound) {
		return newError(CodeCommandNotFound, "command %s has no roster entry for asset group %s",
			commandID, assetGroupID)
	}
	if err != nil {
		return err
	}
	if agentID != "" && record.AgentID != agentID {
		return newError(CodeAgentMismatch, "asset group %s belongs to agent %s", assetGroupID, record.AgentID)
	}
	if record.IsTerminal() {
		return nil
	}

	record.ForceCompleted = true
	record.LeaseID = ""
	record.LeaseExpiration = nil
	record.NextVisibleTime = nil
	if err := s.store.ReplaceStatus(ctx, record, etag); err != nil {
		if errors.Is(err, history.ErrConflict) {
			return newError(CodeLeaseConflict, "concurrent update for command %s", commandID)
		}
		return err
	}
	s.recomputeCompletion(ctx, commandID)
	s.logger.Warn("command force completed",
		"command_id", commandID,
		"agent_id", record.AgentID,
		"asset_group_id", assetGroupID,
		"last_status", string(record.LastStatus))
	return nil
}

// =============================================================================
// Query
// =============================================================================

// QueryCommand rebuilds the full command a lease receipt refers to.
//
// # Outputs
//
//   - datatypes.PrivacyCommand: the command with lease fields and agent
//     state refreshed from the status record, and the export destination
//     attached for export commands.
func (s *Service) QueryCommand(ctx context.Context, agentID, leaseReceipt string) (datatypes.PrivacyCommand, error) {
	claims, err := s.issuer.Parse(leaseReceipt)
	if err != nil {
		return nil, err
	}
	if agentID != "" && claims.AgentID != agentID {
		return nil, newError(CodeAgentMismatch, "receipt belongs to agent %s", claims.AgentID)
	}

	core, _, err := s.store.ReadCore(ctx, claims.CommandID)
	if errors.Is(err, history.ErrNotFound) {
		return nil, newError(CodeCommandNotFound, "command %s not found", claims.CommandID)
	}
	if err != nil {
		return nil, err
	}
	record, _, err := s.store.ReadStatus(ctx, claims.CommandID, claims.AssetGroupID)
	if errors.Is(err, history.ErrNotFound) {
		return nil, newError(CodeCommandNotFound, "command %s has no roster entry for asset group %s",
			claims.CommandID, claims.AssetGroupID)
	}
	if err != nil {
		return nil, err
	}
	if record.LeaseID != claims.LeaseID() {
		return nil, newError(CodeLeaseConflict, "lease receipt superseded for command %s", claims.CommandID)
	}

	cmd, err := datatypes.UnmarshalCommand(core.RawCommand)
	if err != nil {
		return nil, fmt.Errorf("decoding stored command %s: %w", claims.CommandID, err)
	}
	header := cmd.Header()
	header.AgentID = record.AgentID
	header.AssetGroupID = record.AssetGroupID
	header.LeaseReceipt = leaseReceipt
	if record.LeaseExpiration != nil {
		header.ApproximateLeaseExpiration = *record.LeaseExpiration
	}
	header.AgentState = record.AgentState

	if exp, ok := cmd.(*datatypes.ExportCommand); ok {
		dest, _, err := s.store.ReadExportDestination(ctx, claims.CommandID, claims.AssetGroupID)
		if err == nil {
			exp.DestinationURI = dest.DestinationURI
			exp.DestinationPath = dest.DestinationPath
		} else if !errors.Is(err, history.ErrNotFound) {
			return nil, err
		}
	}
	return cmd, nil
}

// =============================================================================
// Queue Stats
// =============================================================================

// QueueStats counts pending roster entries per asset group, optionally
// narrowed to one asset group qualifier and one command type.
func (s *Service) QueueStats(ctx context.Context, req *datatypes.QueueStatsRequest) (*datatypes.QueueStatsResponse, error) {
	var typeFilter datatypes.CommandType
	if req.CommandType != "" {
		parsed, err := datatypes.ParseCommandType(req.CommandType)
		if err != nil {
			return nil, newError(CodeInvalidCommand, "%v", err)
		}
		typeFilter = parsed
	}
	snapshot := s.maps.Get()
	if snapshot == nil {
		return nil, newError(CodeMapUnavailable, "agent map not initialized")
	}

	ids, err := s.store.ListOpenCommandIDs(ctx)
	if err != nil {
		return nil, err
	}

	pending := make(map[string]int64)
	for _, id := range ids {
		core, _, err := s.store.ReadCore(ctx, id)
		if err != nil {
			continue
		}
		if typeFilter != "" && core.CommandType != typeFilter {
			continue
		}
		statuses, err := s.store.ListStatuses(ctx, id)
		if err != nil {
			continue
		}
		for _, status := range statuses {
			if !status.IsTerminal() {
				pending[status.AssetGroupID]++
			}
		}
	}

	response := &datatypes.QueueStatsResponse{}
	for assetGroupID, count := range pending {
		stat := datatypes.QueueStat{AssetGroupID: assetGroupID, PendingCommandCount: count}
		if ag, ok := snapshot.AssetGroup(assetGroupID); ok {
			stat.AssetGroupQualifier = ag.AssetGroupQualifier
		}
		if req.AssetQualifier != "" && stat.AssetGroupQualifier != req.AssetQualifier {
			continue
		}
		response.QueueStats = append(response.QueueStats, stat)
		response.TotalPending += count
	}
	return response, nil
}

// =============================================================================
// Command Status
// =============================================================================

// CommandStatus builds the operator-facing aggregate for one command.
func (s *Service) CommandStatus(ctx context.Context, commandID string) (*datatypes.CommandStatusResponse, error) {
	core, _, err := s.store.ReadCore(ctx, commandID)
	if errors.Is(err, history.ErrNotFound) {
		return nil, newError(CodeCommandNotFound, "command %s not found", commandID)
	}
	if err != nil {
		return nil, err
	}
	statuses, err := s.store.ListStatuses(ctx, commandID)
	if err != nil {
		return nil, err
	}

	response := &datatypes.CommandStatusResponse{
		CommandID:          core.CommandID,
		CommandType:        core.CommandType,
		CreatedTime:        core.CreatedTime.Format(time.RFC3339),
		IsGloballyComplete: core.IsGloballyComplete,
		TotalCount:         core.TotalCommandCount,
		IngestedCount:      core.IngestedCommandCount,
		CompletedCount:     core.CompletedCommandCount,
	}
	for _, status := range statuses {
		response.AssetGroupStatuses = append(response.AssetGroupStatuses, datatypes.AssetGroupStatus{
			AgentID:         status.AgentID,
			AssetGroupID:    status.AssetGroupID,
			Terminal:        status.IsTerminal(),
			LastStatus:      string(status.LastStatus),
			ForceCompleted:  status.ForceCompleted,
			AffectedRows:    status.AffectedRows,
			ClaimedVariants: status.ClaimedVariants,
		})
	}
	return response, nil
}
