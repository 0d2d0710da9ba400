// Package schema defines the documents stored by the task board.
//
// # Overview
//
// Every entity is a flat JSON document living in one collection of the
// document store. Field names match the stored documents so that the
// same structs decode push snapshots and encode writes.
//
// # Collections
//
//   - tasks - Task documents, comments embedded as an append-only array
//   - projects - Project documents (task counts are derived, never stored)
//   - users - profile documents keyed by the auth identity id
//   - teamInvites - invitations between two identities
//   - teamMembers - memberships created when an invite is accepted
//
// # Example task document
//
//	{
//	  "title": "Ship release notes",
//	  "status": "in-progress",
//	  "priority": "high",
//	  "assignedTo": "u-42",
//	  "projectId": "p-7",
//	  "dueDate": "2026-10-20",
//	  "createdBy": "u-42",
//	  "createdAt": "2026-10-16T09:00:00Z",
//	  "updatedAt": "2026-10-16T09:30:00Z",
//	  "comments": [
//	    {"id": "comment1760605800000", "userId": "u-42", "text": "drafted", "date": "2026-10-16T09:30:00Z"}
//	  ]
//	}
//
// # Design Principles
//
//   - Flat documents, last-write-wins per field
//   - Usernames are always lowercase before they are stored or queried
//   - Validate() on every type; callers decide where validation runs
package schema

// Collection names in the document store.
const (
	CollectionTasks       = "tasks"
	CollectionProjects    = "projects"
	CollectionUsers       = "users"
	CollectionInvites     = "teamInvites"
	CollectionMemberships = "teamMembers"
)

// OwnerFields lists, per collection, the fields that name the identities
// allowed to query its documents. Profiles are readable by anyone signed
// in so invitations can look usernames up.
func OwnerFields() map[string][]string {
	return map[string][]string{
		CollectionTasks:       {"createdBy"},
		CollectionProjects:    {"createdBy"},
		CollectionInvites:     {"fromUserId", "toUserId"},
		CollectionMemberships: {"teamLeaderId", "memberId"},
	}
}
