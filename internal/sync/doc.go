// Package sync implements the reconciliation pass that mirrors Bitbucket tags
// into PostHog annotations.
//
// # Core Types
//
//   - Runner: anything that performs one pass; the coordinator schedules Runners
//   - Job: the Runner that reconciles one repository against one PostHog organization
//   - Result: what a pass did (skipped, created, failed)
//
// # Pass Steps
//
// A Job pass:
//
//  1. Consults the run guard and returns a skipped Result if the previous pass
//     started less than one guard window ago
//  2. Records the new start time before touching either API
//  3. Collects the content of every organization-scoped annotation, page by page
//  4. Lists the repository tags
//  5. Computes the tags with no annotation (NewTags), oldest version first
//  6. Creates one annotation per new tag and captures a created_tag_annotation
//     event for every 201 response
//
// Failures in steps 3 and 4 fail the pass and restore the previous guard value,
// so the next scheduler tick retries. A failure creating one annotation is
// logged and recorded in Result.Failed; the remaining tags are still processed.
// Annotations already created are recognised on the next pass, so a repeated
// pass never duplicates them.
//
// The coordinator subpackage runs Jobs on an interval and owns the pass metrics.
package sync
