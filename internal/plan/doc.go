// Package plan models and loads test plans.
//
// Plan files are YAML or JSON. They are converted to JSON, validated against
// a schema generated from the TestPlan struct, decoded strictly and finally
// checked for rules the schema cannot express, such as role mappings that
// point at roles missing from the constellation.
package plan
