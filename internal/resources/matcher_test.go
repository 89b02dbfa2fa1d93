package resources

import (
	"fmt"
	"strings"
	"testing"

	"github.com/syedsabbir-git/ClassSync-sub001/internal/model"
)

func library(n int) []model.Resource {
	out := make([]model.Resource, n)
	for i := range out {
		out[i] = model.Resource{ID: fmt.Sprintf("r%d", i), Title: fmt.Sprintf("Unrelated %d", i)}
	}
	return out
}

func TestMatch(t *testing.T) {
	all := []model.Resource{
		{ID: "1", Title: "Intro to Photosynthesis"},
		{ID: "2", Title: "Algebra basics"},
		{ID: "3", Title: "Plant notes", Description: "covers PHOTOSYNTHESIS in depth"},
		{ID: "4", Title: "Biology", Topic: "photosynthesis"},
		{ID: "5", Title: "Flashcards", Tags: []string{"Photosynthesis", "plants"}},
		{ID: "6", Title: "Flashcards 2", Tags: []string{"photosynthesis-advanced"}},
	}

	got := Match(model.Task{Title: "Photosynthesis"}, all)
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	if strings.Join(ids, ",") != "1,3,4,5" {
		t.Errorf("Match ids = %v, want [1 3 4 5]", ids)
	}
}

func TestMatchUncapped(t *testing.T) {
	all := library(10)
	for i := range all {
		all[i].Tags = []string{"calculus"}
	}
	if got := Match(model.Task{Title: "Calculus"}, all); len(got) != 10 {
		t.Errorf("got %d matches, want all 10", len(got))
	}
}

func TestMatchFallback(t *testing.T) {
	tests := []struct {
		name  string
		all   []model.Resource
		title string
		want  int
	}{
		{"more than five", library(8), "Chemistry", 5},
		{"fewer than five", library(3), "Chemistry", 3},
		{"empty library", nil, "Chemistry", 0},
		{"blank title", library(8), "  ", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match(model.Task{Title: tt.title}, tt.all)
			if len(got) != tt.want {
				t.Fatalf("got %d resources, want %d", len(got), tt.want)
			}
			for i := range got {
				if got[i].ID != tt.all[i].ID {
					t.Errorf("fallback[%d] = %s, want %s", i, got[i].ID, tt.all[i].ID)
				}
			}
		})
	}
}

func TestMatchIsFilter(t *testing.T) {
	all := []model.Resource{
		{ID: "1", Title: "Essay writing"},
		{ID: "2", Title: "Numbers"},
		{ID: "3", Topic: "essay"},
	}
	for _, r := range Match(model.Task{Title: "essay"}, all) {
		if !Relevant("essay", r) {
			t.Errorf("resource %s returned but not relevant", r.ID)
		}
	}
}

func TestMatchDoesNotAliasInput(t *testing.T) {
	all := library(6)
	got := Match(model.Task{Title: "none"}, all)
	got[0].Title = "changed"
	if all[0].Title == "changed" {
		t.Error("fallback slice aliases the input")
	}
}
