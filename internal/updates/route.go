// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package updates

import (
	"github.com/tomtom215/guildsync/internal/cache"
	"github.com/tomtom215/guildsync/internal/protocol"
)

// Cache key roots.
var (
	KeyTasks     = cache.NewKey("tasks")
	KeyProjects  = cache.NewKey("projects")
	KeyComments  = cache.NewKey("comments")
	KeyDocuments = cache.NewKey("documents")
)

// TaskComments is the comment thread of a task.
func TaskComments(taskID string) cache.Key { return KeyComments.Child("task", taskID) }

// DocumentComments is the comment thread of a document.
func DocumentComments(documentID string) cache.Key {
	return KeyComments.Child("document", documentID)
}

// Project is everything derived from one project.
func Project(projectID string) cache.Key { return KeyProjects.Child(projectID) }

// ProjectActivity is a project's activity feed.
func ProjectActivity(projectID string) cache.Key { return Project(projectID).Child("activity") }

// ProjectDocuments is a project's document list.
func ProjectDocuments(projectID string) cache.Key { return Project(projectID).Child("documents") }

// Document is one document's metadata.
func Document(documentID string) cache.Key { return KeyDocuments.Child(documentID) }

// Route maps a resource event to the cache keys it invalidates. Unknown
// resources map to nothing.
func Route(ev protocol.ResourceEvent) []cache.Key {
	d := ev.Data
	projectID := d.ProjectID.String()
	taskID := d.TaskID.String()
	documentID := d.DocumentID.String()

	var keys []cache.Key
	switch ev.Resource {
	case protocol.ResourceTask:
		keys = append(keys, KeyTasks)
		if projectID != "" {
			keys = append(keys, Project(projectID))
		}

	case protocol.ResourceProject:
		keys = append(keys, KeyProjects)

	case protocol.ResourceComment:
		switch {
		case taskID != "":
			keys = append(keys, TaskComments(taskID))
		case documentID != "":
			keys = append(keys, DocumentComments(documentID))
		default:
			keys = append(keys, KeyComments)
		}
		if documentID != "" {
			keys = append(keys, Document(documentID))
		}
		keys = append(keys, KeyDocuments)
		if projectID != "" {
			keys = append(keys, ProjectActivity(projectID))
		}

	case protocol.ResourceDocument:
		keys = append(keys, KeyDocuments)
		if projectID != "" {
			keys = append(keys, ProjectDocuments(projectID))
		}
	}
	return keys
}
