// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// =============================================================================
// Asset Group Reference Data
// =============================================================================

// AssetGroupVariantInfo is an approved exception scoped to an asset group.
// A variant matches a command when its data type, subject type, and
// capability lists each cover the command (empty list = covers everything).
type AssetGroupVariantInfo struct {
	VariantID    string `json:"variantId" yaml:"variantId" validate:"required"`
	AssetGroupID string `json:"assetGroupId" yaml:"assetGroupId" validate:"required"`

	ApplicableDataTypeIDs  []string      `json:"applicableDataTypeIds,omitempty" yaml:"applicableDataTypeIds"`
	ApplicableSubjectTypes []SubjectType `json:"applicableSubjectTypes,omitempty" yaml:"applicableSubjectTypes"`
	ApplicableCapabilities []CommandType `json:"applicableCapabilities,omitempty" yaml:"applicableCapabilities"`

	// IsAgentApplied variants are forwarded to the agent to decide; they are
	// never auto-applied by the engine.
	IsAgentApplied bool `json:"isAgentApplied,omitempty" yaml:"isAgentApplied"`
}

// Covers reports whether every non-empty applicability list includes the
// given value of its kind.
func (v *AssetGroupVariantInfo) Covers(dataType string, subjectType SubjectType, commandType CommandType) bool {
	if len(v.ApplicableDataTypeIDs) > 0 && !containsString(v.ApplicableDataTypeIDs, dataType) {
		return false
	}
	if len(v.ApplicableSubjectTypes) > 0 && !containsSubjectType(v.ApplicableSubjectTypes, subjectType) {
		return false
	}
	if len(v.ApplicableCapabilities) > 0 && !containsCommandType(v.ApplicableCapabilities, commandType) {
		return false
	}
	return true
}

// AssetGroupInfo describes one registered asset group and the capability
// set its agent has declared. Instances are immutable once published in a
// map snapshot.
type AssetGroupInfo struct {
	AssetGroupID        string `json:"assetGroupId" yaml:"assetGroupId" validate:"required"`
	AgentID             string `json:"agentId" yaml:"agentId" validate:"required"`
	AssetGroupQualifier string `json:"assetGroupQualifier" yaml:"assetGroupQualifier" validate:"required"`

	SupportedDataTypes      []string        `json:"supportedDataTypes" yaml:"supportedDataTypes"`
	SupportedSubjectTypes   []SubjectType   `json:"supportedSubjectTypes" yaml:"supportedSubjectTypes"`
	SupportedCommandTypes   []CommandType   `json:"supportedCommandTypes" yaml:"supportedCommandTypes"`
	SupportedCloudInstances []CloudInstance `json:"supportedCloudInstances" yaml:"supportedCloudInstances"`
	DeploymentLocation      CloudInstance   `json:"deploymentLocation,omitempty" yaml:"deploymentLocation"`

	// TenantIDs restricts AAD commands to the listed tenants when non-empty.
	// A non-empty list also opts the asset group into AadSubject2 delivery.
	TenantIDs []string `json:"tenantIds,omitempty" yaml:"tenantIds"`

	VariantInfosAppliedByPcf    []AssetGroupVariantInfo `json:"variantInfosAppliedByPcf,omitempty" yaml:"variantInfosAppliedByPcf"`
	VariantInfosAppliedByAgents []AssetGroupVariantInfo `json:"variantInfosAppliedByAgents,omitempty" yaml:"variantInfosAppliedByAgents"`

	IsDeprecated             bool `json:"isDeprecated,omitempty" yaml:"isDeprecated"`
	DelinkApproved           bool `json:"delinkApproved,omitempty" yaml:"delinkApproved"`
	IsFakePreProdAssetGroup  bool `json:"isFakePreProdAssetGroup,omitempty" yaml:"isFakePreProdAssetGroup"`
	SupportsLowPriorityQueue bool `json:"supportsLowPriorityQueue,omitempty" yaml:"supportsLowPriorityQueue"`
}

// SupportsCommandType reports whether the asset group handles the command
// type.
func (ag *AssetGroupInfo) SupportsCommandType(t CommandType) bool {
	return containsCommandType(ag.SupportedCommandTypes, t)
}

// SupportsSubjectType reports whether the asset group handles the subject
// type. AadSubject2 additionally requires a tenant opt-in; see SupportsAad2.
func (ag *AssetGroupInfo) SupportsSubjectType(t SubjectType) bool {
	return containsSubjectType(ag.SupportedSubjectTypes, t)
}

// SupportsAad2 reports whether the asset group has opted into multi-tenant
// AAD subjects. Declaring tenant ids is the opt-in signal.
func (ag *AssetGroupInfo) SupportsAad2() bool {
	return ag.SupportsSubjectType(SubjectTypeAad) && len(ag.TenantIDs) > 0
}

// SupportsDataType reports whether the asset group handles the data type.
func (ag *AssetGroupInfo) SupportsDataType(dataType string) bool {
	return containsString(ag.SupportedDataTypes, dataType)
}

// SupportsCloudInstance reports whether the cloud is enumerated in the
// asset group's supported set, comparing case-insensitively.
func (ag *AssetGroupInfo) SupportsCloudInstance(c CloudInstance) bool {
	for _, supported := range ag.SupportedCloudInstances {
		if supported.Equal(c) {
			return true
		}
	}
	return false
}

// ServesTenant reports whether an AAD tenant is in scope for this asset
// group. An empty tenant list means all tenants.
func (ag *AssetGroupInfo) ServesTenant(tenantID string) bool {
	if len(ag.TenantIDs) == 0 {
		return true
	}
	return containsString(ag.TenantIDs, tenantID)
}

// DataAgentInfo describes one registered agent and the asset groups it owns.
type DataAgentInfo struct {
	AgentID        string              `json:"agentId" yaml:"agentId" validate:"required"`
	Name           string              `json:"name,omitempty" yaml:"name"`
	ReadinessState AgentReadinessState `json:"readinessState,omitempty" yaml:"readinessState"`
	AssetGroupIDs  []string            `json:"assetGroupIds,omitempty" yaml:"assetGroupIds"`
}

// IsProduction reports whether the agent's completions are authoritative.
// An unset readiness state counts as production.
func (a *DataAgentInfo) IsProduction() bool {
	return a.ReadinessState == "" || a.ReadinessState == ReadinessProduction
}

// =============================================================================
// Helpers
// =============================================================================

func containsString(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func containsSubjectType(haystack []SubjectType, needle SubjectType) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func containsCommandType(haystack []CommandType, needle CommandType) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
