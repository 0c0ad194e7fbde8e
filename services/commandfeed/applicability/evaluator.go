// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package applicability decides whether an asset group must act on a
// privacy command and computes the command's variant disposition.
//
// # Description
//
// The evaluator runs a fixed gate sequence over the (command, asset group)
// pair: asset group validity, deprecation, command type, subject type,
// tenant scope, cloud instance, data types, then variants. Engine-applied
// variants exclude the asset group; agent-applied variants annotate the
// command without changing applicability.
//
// # Thread Safety
//
// Evaluator is immutable after construction. IsCommandActionable is a pure
// function of its inputs; Apply additionally mutates the command header.
package applicability

import (
	"fmt"

	"github.com/AleutianAI/commandfeed/services/commandfeed/datatypes"
)

// =============================================================================
// Reason Codes
// =============================================================================

// ReasonCode explains an applicability decision for audit.
type ReasonCode string

const (
	// ReasonNone means the asset group must act on the command.
	ReasonNone ReasonCode = "none"

	ReasonAssetGroupInfoIsInvalid ReasonCode = "assetGroupInfoIsInvalid"
	ReasonAssetGroupIsDeprecated  ReasonCode = "assetGroupIsDeprecated"

	ReasonDoesNotMatchCommandTypes   ReasonCode = "doesNotMatchAssetGroupSupportedCommandTypes"
	ReasonDoesNotMatchSubjectTypes   ReasonCode = "doesNotMatchAssetGroupSupportedSubjectTypes"
	ReasonDoesNotMatchCloudInstances ReasonCode = "doesNotMatchAssetGroupSupportedCloudInstances"
	ReasonDoesNotMatchDataTypes      ReasonCode = "doesNotMatchAssetGroupSupportedDataTypes"
	ReasonDoesNotMatchTenant         ReasonCode = "doesNotMatchAssetGroupTenants"

	// ReasonFilteredByVariant means an engine-applied blanket variant
	// excuses the asset group from acting.
	ReasonFilteredByVariant ReasonCode = "filteredByPcfAppliedVariant"
)

// Result is the full applicability decision for one (command, asset group)
// pair.
type Result struct {
	Applicable bool
	Reason     ReasonCode

	// PcfAppliedVariantIDs lists engine-applied variants that matched. They
	// are recorded for audit only and never surface on the command.
	PcfAppliedVariantIDs []string

	// AgentAppliedVariantIDs lists variants forwarded to the agent. They
	// are appended to the command's ApplicableVariants even when the asset
	// group is otherwise excluded.
	AgentAppliedVariantIDs []string

	// ApplicableDataTypes is the intersection of the command's data types
	// with the asset group's supported set. For export commands only the
	// intersecting subset is expected to be exported.
	ApplicableDataTypes []string
}

// InvalidCommandError reports a malformed command discovered during
// evaluation. Callers must surface it for the pair, never swallow it.
type InvalidCommandError struct {
	CommandID    string
	AgentID      string
	AssetGroupID string
	Reason       string
}

func (e *InvalidCommandError) Error() string {
	return fmt.Sprintf("invalid privacy command %s for agent %s asset group %s: %s",
		e.CommandID, e.AgentID, e.AssetGroupID, e.Reason)
}

// =============================================================================
// Cloud Configuration
// =============================================================================

// CloudConfig is the immutable sovereign-cloud table the evaluator is
// constructed with. Tests substitute alternate configurations here instead
// of touching process-wide state.
type CloudConfig struct {
	// SovereignClouds lists every non-public cloud instance the deployment
	// recognizes, beyond the built-in closed set.
	SovereignClouds []datatypes.CloudInstance
}

// DefaultCloudConfig recognizes the built-in sovereign clouds only.
func DefaultCloudConfig() CloudConfig {
	return CloudConfig{SovereignClouds: datatypes.SovereignCloudInstances}
}

func (c CloudConfig) isKnown(instance datatypes.CloudInstance) bool {
	if instance.IsPublic() {
		return true
	}
	for _, known := range c.SovereignClouds {
		if known.Equal(instance) {
			return true
		}
	}
	return false
}

// =============================================================================
// Evaluator
// =============================================================================

// Evaluator applies the applicability gate sequence.
type Evaluator struct {
	clouds CloudConfig
}

// NewEvaluator builds an evaluator over the given cloud configuration.
func NewEvaluator(clouds CloudConfig) *Evaluator {
	return &Evaluator{clouds: clouds}
}

// IsCommandActionable decides whether the asset group must act on the
// command.
//
// # Description
//
// Pure function of the command's and asset group's field values: calling it
// twice with identical inputs yields identical results. The command is not
// mutated; use Apply to also update the command's variant and applicability
// fields.
//
// # Outputs
//
//   - bool: true when the asset group must act.
//   - Result: the decision detail, including matched variant ids.
//   - error: an *InvalidCommandError when the command is malformed or names
//     an unrecognized cloud instance.
func (e *Evaluator) IsCommandActionable(cmd datatypes.PrivacyCommand, ag *datatypes.AssetGroupInfo) (bool, Result, error) {
	header := cmd.Header()

	dataTypes, err := commandDataTypes(cmd, ag)
	if err != nil {
		return false, Result{}, err
	}
	cloud := header.ResolvedCloudInstance()
	if !e.clouds.isKnown(cloud) {
		return false, Result{}, &InvalidCommandError{
			CommandID:    header.CommandID,
			AgentID:      ag.AgentID,
			AssetGroupID: ag.AssetGroupID,
			Reason:       fmt.Sprintf("unrecognized cloud instance %q", cloud),
		}
	}

	if !assetGroupIsValid(ag, e.clouds) {
		return false, Result{Reason: ReasonAssetGroupInfoIsInvalid}, nil
	}
	if ag.IsDeprecated {
		return false, Result{Reason: ReasonAssetGroupIsDeprecated}, nil
	}
	if !ag.SupportsCommandType(cmd.Kind()) {
		return false, Result{Reason: ReasonDoesNotMatchCommandTypes}, nil
	}

	subjectType := header.Subject.Kind()
	if !subjectTypeSupported(ag, subjectType) {
		return false, Result{Reason: ReasonDoesNotMatchSubjectTypes}, nil
	}
	if reason, ok := tenantInScope(ag, header.Subject); !ok {
		return false, Result{Reason: reason}, nil
	}
	if !cloudInScope(ag, subjectType, cloud) {
		return false, Result{Reason: ReasonDoesNotMatchCloudInstances}, nil
	}

	result := Result{Applicable: true, Reason: ReasonNone}
	if needsDataTypes(cmd.Kind()) {
		intersection := intersect(dataTypes, ag.SupportedDataTypes)
		if len(intersection) == 0 {
			return false, Result{Reason: ReasonDoesNotMatchDataTypes}, nil
		}
		result.ApplicableDataTypes = intersection
		dataTypes = intersection
	}

	// Engine-applied variants are evaluated before agent-applied variants,
	// but both run: an excluded asset group can still carry agent-applied
	// annotations for legacy partial variant coverage.
	for i := range ag.VariantInfosAppliedByPcf {
		v := &ag.VariantInfosAppliedByPcf[i]
		if variantMatches(v, dataTypes, subjectType, cmd.Kind()) {
			result.PcfAppliedVariantIDs = append(result.PcfAppliedVariantIDs, v.VariantID)
		}
	}
	if len(result.PcfAppliedVariantIDs) > 0 {
		result.Applicable = false
		result.Reason = ReasonFilteredByVariant
	}

	for i := range ag.VariantInfosAppliedByAgents {
		v := &ag.VariantInfosAppliedByAgents[i]
		if variantMatches(v, dataTypes, subjectType, cmd.Kind()) {
			result.AgentAppliedVariantIDs = append(result.AgentAppliedVariantIDs, v.VariantID)
		}
	}

	return result.Applicable, result, nil
}

// Apply evaluates applicability and writes the disposition onto the
// command: agent-applied variant ids are appended to ApplicableVariants and
// the processor/controller applicability flags are set.
func (e *Evaluator) Apply(cmd datatypes.PrivacyCommand, ag *datatypes.AssetGroupInfo) (bool, Result, error) {
	applicable, result, err := e.IsCommandActionable(cmd, ag)
	if err != nil {
		return false, result, err
	}
	header := cmd.Header()
	for _, id := range result.AgentAppliedVariantIDs {
		if !contains(header.ApplicableVariants, id) {
			header.ApplicableVariants = append(header.ApplicableVariants, id)
		}
	}
	header.ProcessorApplicable = applicable
	header.ControllerApplicable = applicable
	return applicable, result, nil
}

// =============================================================================
// Gates
// =============================================================================

// assetGroupIsValid rejects configurations that can never act on any
// command: empty capability lists, or a sovereign-deployed asset group whose
// supported clouds name anything other than its own deployment location.
func assetGroupIsValid(ag *datatypes.AssetGroupInfo, clouds CloudConfig) bool {
	if len(ag.SupportedCommandTypes) == 0 ||
		len(ag.SupportedSubjectTypes) == 0 ||
		len(ag.SupportedDataTypes) == 0 {
		return false
	}
	if !ag.DeploymentLocation.IsPublic() {
		if !clouds.isKnown(ag.DeploymentLocation) {
			return false
		}
		for _, supported := range ag.SupportedCloudInstances {
			if !supported.Equal(ag.DeploymentLocation) {
				return false
			}
		}
	}
	return true
}

func subjectTypeSupported(ag *datatypes.AssetGroupInfo, subjectType datatypes.SubjectType) bool {
	if subjectType == datatypes.SubjectTypeAad2 {
		// Multi-tenant AAD delivery is opt-in even when plain AAD is
		// supported.
		return ag.SupportsAad2()
	}
	return ag.SupportsSubjectType(subjectType)
}

func tenantInScope(ag *datatypes.AssetGroupInfo, subject datatypes.Subject) (ReasonCode, bool) {
	switch s := subject.(type) {
	case *datatypes.AadSubject:
		if !ag.ServesTenant(s.TenantID) {
			return ReasonDoesNotMatchTenant, false
		}
	case *datatypes.AadSubject2:
		if !ag.ServesTenant(s.TenantID) && !ag.ServesTenant(s.HomeTenantID) {
			return ReasonDoesNotMatchTenant, false
		}
	}
	return ReasonNone, true
}

// cloudInScope enforces the cloud-instance gate. Only AAD identities exist
// in sovereign clouds, so the gate binds AAD subjects; all other subject
// types live in the public cloud and pass for public commands. An asset
// group deployed in the command's sovereign cloud is implicitly in scope
// even when it does not enumerate that cloud.
func cloudInScope(ag *datatypes.AssetGroupInfo, subjectType datatypes.SubjectType, cloud datatypes.CloudInstance) bool {
	aadSubject := subjectType == datatypes.SubjectTypeAad || subjectType == datatypes.SubjectTypeAad2
	if !aadSubject {
		return cloud.IsPublic()
	}
	if ag.SupportsCloudInstance(cloud) {
		return true
	}
	return !cloud.IsPublic() && ag.DeploymentLocation.Equal(cloud)
}

func needsDataTypes(kind datatypes.CommandType) bool {
	return kind == datatypes.CommandTypeDelete || kind == datatypes.CommandTypeExport
}

// commandDataTypes extracts the declared data types, failing with an
// *InvalidCommandError when a delete or export command omits them.
func commandDataTypes(cmd datatypes.PrivacyCommand, ag *datatypes.AssetGroupInfo) ([]string, error) {
	header := cmd.Header()
	invalid := func(reason string) error {
		return &InvalidCommandError{
			CommandID:    header.CommandID,
			AgentID:      ag.AgentID,
			AssetGroupID: ag.AssetGroupID,
			Reason:       reason,
		}
	}

	switch c := cmd.(type) {
	case *datatypes.DeleteCommand:
		if c.PrivacyDataType == "" {
			return nil, invalid("delete command has no privacy data type")
		}
		if c.TimeRangePredicate.EndTime.IsZero() {
			return nil, invalid("delete command has no time range predicate")
		}
		return []string{c.PrivacyDataType}, nil
	case *datatypes.ExportCommand:
		if len(c.PrivacyDataTypes) == 0 {
			return nil, invalid("export command has no privacy data types")
		}
		return c.PrivacyDataTypes, nil
	default:
		return nil, nil
	}
}

func variantMatches(v *datatypes.AssetGroupVariantInfo, dataTypes []string, subjectType datatypes.SubjectType, kind datatypes.CommandType) bool {
	if len(dataTypes) == 0 {
		return v.Covers("", subjectType, kind)
	}
	for _, dt := range dataTypes {
		if v.Covers(dt, subjectType, kind) {
			return true
		}
	}
	return false
}

func intersect(a, b []string) []string {
	var out []string
	for _, v := range a {
		if contains(b, v) && !contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
