package types

import "strconv"

// Work section fields.
const (
	FieldWorkName            = "work_name"
	FieldPackageNumber       = "package_number"
	FieldCost                = "cost"
	FieldTargetKm            = "target_km"
	FieldWorkPeriodMonths    = "work_period_months"
	FieldAreaUnderIrrigation = "area_under_irrigation"
	FieldAwardStatus         = "award_status"
	FieldZoneID              = "zone_id"
	FieldCircleID            = "circle_id"
	FieldDivisionID          = "division_id"
	FieldComponentID         = "component_id"
	FieldSubcomponentID      = "subcomponent_id"
	FieldWorkItemID          = "work_item_id"
)

// Beneficiary section fields.
const (
	FieldTotalPopulation        = "total_population"
	FieldFemale                 = "female"
	FieldMale                   = "male"
	FieldYouth                  = "youth"
	FieldGovernmentStakeholders = "government_stakeholders"
	FieldEligible               = "eligible"
)

// Village row fields. Villages reuse FieldMale and FieldFemale.
const (
	FieldVillageName      = "village_name"
	FieldDistrict         = "district"
	FieldBlock            = "block"
	FieldPanchayat        = "panchayat"
	FieldCensusPopulation = "census_population"
)

// Cost component row fields.
const (
	FieldComponentName  = "component_name"
	FieldUnit           = "unit"
	FieldTotalQty       = "total_qty"
	FieldMilestoneCount = "milestone_count"

	// FieldMilestones keys cross-field errors about the milestone sum.
	FieldMilestones = "milestones"
)

// FieldMilestone returns the field name of milestone n (1-based).
func FieldMilestone(n int) string {
	return "milestone_" + strconv.Itoa(n)
}
