// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package updates

import (
	"reflect"
	"testing"

	"github.com/tomtom215/guildsync/internal/cache"
	"github.com/tomtom215/guildsync/internal/protocol"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		name string
		ev   protocol.ResourceEvent
		want []cache.Key
	}{
		{
			name: "task without project",
			ev:   protocol.ResourceEvent{Resource: protocol.ResourceTask, Data: protocol.EventData{TaskID: "7"}},
			want: []cache.Key{"tasks"},
		},
		{
			name: "task in project",
			ev:   protocol.ResourceEvent{Resource: protocol.ResourceTask, Data: protocol.EventData{TaskID: "7", ProjectID: "3"}},
			want: []cache.Key{"tasks", "projects:3"},
		},
		{
			name: "project",
			ev:   protocol.ResourceEvent{Resource: protocol.ResourceProject, Data: protocol.EventData{ProjectID: "3"}},
			want: []cache.Key{"projects"},
		},
		{
			name: "comment on task",
			ev:   protocol.ResourceEvent{Resource: protocol.ResourceComment, Data: protocol.EventData{TaskID: "7", ProjectID: "3"}},
			want: []cache.Key{"comments:task:7", "documents", "projects:3:activity"},
		},
		{
			name: "comment on document",
			ev:   protocol.ResourceEvent{Resource: protocol.ResourceComment, Data: protocol.EventData{DocumentID: "d-1"}},
			want: []cache.Key{"comments:document:d-1", "documents:d-1", "documents"},
		},
		{
			name: "comment without parent",
			ev:   protocol.ResourceEvent{Resource: protocol.ResourceComment},
			want: []cache.Key{"comments", "documents"},
		},
		{
			name: "document in project",
			ev:   protocol.ResourceEvent{Resource: protocol.ResourceDocument, Data: protocol.EventData{DocumentID: "d-1", ProjectID: "3"}},
			want: []cache.Key{"documents", "projects:3:documents"},
		},
		{
			name: "unknown resource",
			ev:   protocol.ResourceEvent{Resource: "milestone", Data: protocol.EventData{ProjectID: "3"}},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Route(tt.ev); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Route() = %v, want %v", got, tt.want)
			}
		})
	}
}
