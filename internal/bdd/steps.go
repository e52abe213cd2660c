package bdd

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"

	"github.com/federated-memory/federated-memory/internal/ferrors"
)

// scenarioState extends world with the bookkeeping a step definition needs
// to refer back to memories it created earlier in the same scenario.
type scenarioState struct {
	*world
	lastMemoryID  string
	lastModuleID  string
	remembered    map[string]memoryRef
	authenticated bool
}

type memoryRef struct {
	id       string
	moduleID string
}

func (s *scenarioState) iAmAuthenticatedAsUser(userID string) error {
	s.userID = userID
	s.authenticated = true
	return nil
}

func (s *scenarioState) iAmNotAuthenticated() error {
	s.userID = ""
	s.authenticated = false
	return nil
}

func (s *scenarioState) iStoreAMemoryWithContent(content string) error {
	if err := s.callTool("storeMemory", map[string]interface{}{"content": content}); err != nil {
		return err
	}
	if s.lastJSON != nil {
		if id, ok := s.lastJSON["id"].(string); ok {
			s.lastMemoryID = id
		}
		if mod, ok := s.lastJSON["moduleId"].(string); ok {
			s.lastModuleID = mod
		}
	}
	return nil
}

func (s *scenarioState) iStoreAMemoryWithContentInModule(content, moduleID string) error {
	if err := s.callTool("storeMemory", map[string]interface{}{"content": content, "moduleId": moduleID}); err != nil {
		return err
	}
	if s.lastJSON != nil {
		if id, ok := s.lastJSON["id"].(string); ok {
			s.lastMemoryID = id
		}
		if mod, ok := s.lastJSON["moduleId"].(string); ok {
			s.lastModuleID = mod
		}
	}
	return nil
}

func (s *scenarioState) iRememberItAs(label string) error {
	s.remembered[label] = memoryRef{id: s.lastMemoryID, moduleID: s.lastModuleID}
	return nil
}

func (s *scenarioState) theStoredMemorysModuleIs(moduleID string) error {
	if s.lastModuleID != moduleID {
		return fmt.Errorf("expected module %q, got %q", moduleID, s.lastModuleID)
	}
	return nil
}

func (s *scenarioState) iGetTheStoredMemoryWithoutAModuleIDHint() error {
	return s.callTool("getMemory", map[string]interface{}{"id": s.lastMemoryID})
}

func (s *scenarioState) iDeleteTheStoredMemoryWithoutAModuleIDHint() error {
	return s.callTool("deleteMemory", map[string]interface{}{"id": s.lastMemoryID})
}

func (s *scenarioState) iUpdateTheStoredMemorysMetadataWithTag(tag string) error {
	return s.callTool("updateMemory", map[string]interface{}{
		"id":       s.lastMemoryID,
		"metadata": map[string]interface{}{"tag": tag},
	})
}

func (s *scenarioState) iSearchMemoryFor(query string) error {
	return s.callTool("searchMemory", map[string]interface{}{"query": query})
}

func (s *scenarioState) iLinkMemoryToMemoryAs(sourceLabel, targetLabel, relType string) error {
	src, ok := s.remembered[sourceLabel]
	if !ok {
		return fmt.Errorf("no memory remembered as %q", sourceLabel)
	}
	dst, ok := s.remembered[targetLabel]
	if !ok {
		return fmt.Errorf("no memory remembered as %q", targetLabel)
	}
	return s.callTool("linkMemories", map[string]interface{}{
		"sourceModule":     src.moduleID,
		"sourceMemoryId":   src.id,
		"targetModule":     dst.moduleID,
		"targetMemoryId":   dst.id,
		"relationshipType": relType,
	})
}

func (s *scenarioState) iGetRelatedMemoriesFor(label string) error {
	ref, ok := s.remembered[label]
	if !ok {
		return fmt.Errorf("no memory remembered as %q", label)
	}
	return s.callTool("getRelatedMemories", map[string]interface{}{
		"moduleId": ref.moduleID,
		"memoryId": ref.id,
	})
}

func (s *scenarioState) theCallSucceeds() error {
	if s.lastErr != nil {
		return fmt.Errorf("expected success, got error: %w", s.lastErr)
	}
	if s.resultIsError() {
		return fmt.Errorf("expected success, got tool error: %s", s.resultText())
	}
	return nil
}

func (s *scenarioState) theCallFailsWithKind(kind string) error {
	got := errorKind(s)
	if got != kind {
		return fmt.Errorf("expected error kind %q, got %q", kind, got)
	}
	return nil
}

func (s *scenarioState) theCallFailsWithAnAuthenticationError() error {
	if s.lastErr == nil {
		return fmt.Errorf("expected an authentication error, call succeeded")
	}
	if _, ok := s.lastErr.(*ferrors.AuthenticationRequiredError); !ok {
		return fmt.Errorf("expected AuthenticationRequiredError, got %T: %v", s.lastErr, s.lastErr)
	}
	return nil
}

func (s *scenarioState) theFetchedMemorysContentIs(content string) error {
	if s.lastJSON == nil {
		return fmt.Errorf("no JSON result to inspect")
	}
	got, _ := s.lastJSON["content"].(string)
	if got != content {
		return fmt.Errorf("expected content %q, got %q", content, got)
	}
	return nil
}

func (s *scenarioState) theSearchResultsIncludeTheStoredMemory() error {
	return s.resultsContainMemoryID(s.lastMemoryID)
}

func (s *scenarioState) theResultRankedForIsBeforeTheResultRankedFor(labelA, labelB string) error {
	refA, ok := s.remembered[labelA]
	if !ok {
		return fmt.Errorf("no memory remembered as %q", labelA)
	}
	refB, ok := s.remembered[labelB]
	if !ok {
		return fmt.Errorf("no memory remembered as %q", labelB)
	}
	rankA := s.rankOf(refA.id)
	rankB := s.rankOf(refB.id)
	if rankA < 0 {
		return fmt.Errorf("memory %q not present in results", labelA)
	}
	if rankB < 0 {
		return fmt.Errorf("memory %q not present in results", labelB)
	}
	if rankA >= rankB {
		return fmt.Errorf("expected %q (rank %d) ranked before %q (rank %d)", labelA, rankA, labelB, rankB)
	}
	return nil
}

func (s *scenarioState) theRelatedMemoriesInclude(label string) error {
	ref, ok := s.remembered[label]
	if !ok {
		return fmt.Errorf("no memory remembered as %q", label)
	}
	return s.resultsContainMemoryID(ref.id)
}

// errorKind extracts the ferrors.Kind from either a Go-level handler error
// (unauthenticated path) or the JSON error payload the tool renders for
// domain errors (errResult).
func errorKind(s *scenarioState) string {
	if s.lastErr != nil {
		if k, ok := s.lastErr.(interface{ Kind() string }); ok {
			return k.Kind()
		}
		return "Internal"
	}
	if s.resultIsError() && s.lastJSON != nil {
		if k, ok := s.lastJSON["kind"].(string); ok {
			return k
		}
	}
	return ""
}

func InitializeScenario(sc *godog.ScenarioContext) {
	var s *scenarioState
	sc.Before(func(ctx context.Context, scen *godog.Scenario) (context.Context, error) {
		s = &scenarioState{world: newWorld(), remembered: map[string]memoryRef{}}
		return ctx, nil
	})

	sc.Step(`^I am authenticated as user "([^"]*)"$`, func(user string) error { return s.iAmAuthenticatedAsUser(user) })
	sc.Step(`^I am not authenticated$`, func() error { return s.iAmNotAuthenticated() })
	sc.Step(`^I store a memory with content "([^"]*)"$`, func(content string) error { return s.iStoreAMemoryWithContent(content) })
	sc.Step(`^I store a memory with content "([^"]*)" in module "([^"]*)"$`, func(content, mod string) error { return s.iStoreAMemoryWithContentInModule(content, mod) })
	sc.Step(`^I remember it as "([^"]*)"$`, func(label string) error { return s.iRememberItAs(label) })
	sc.Step(`^the stored memory's module is "([^"]*)"$`, func(mod string) error { return s.theStoredMemorysModuleIs(mod) })
	sc.Step(`^I get the stored memory without a moduleId hint$`, func() error { return s.iGetTheStoredMemoryWithoutAModuleIDHint() })
	sc.Step(`^I delete the stored memory without a moduleId hint$`, func() error { return s.iDeleteTheStoredMemoryWithoutAModuleIDHint() })
	sc.Step(`^I update the stored memory's metadata with tag "([^"]*)"$`, func(tag string) error { return s.iUpdateTheStoredMemorysMetadataWithTag(tag) })
	sc.Step(`^I search memory for "([^"]*)"$`, func(q string) error { return s.iSearchMemoryFor(q) })
	sc.Step(`^I link memory "([^"]*)" to memory "([^"]*)" as "([^"]*)"$`, func(a, b, rt string) error { return s.iLinkMemoryToMemoryAs(a, b, rt) })
	sc.Step(`^I get related memories for "([^"]*)"$`, func(label string) error { return s.iGetRelatedMemoriesFor(label) })
	sc.Step(`^the call succeeds$`, func() error { return s.theCallSucceeds() })
	sc.Step(`^the call fails with kind "([^"]*)"$`, func(kind string) error { return s.theCallFailsWithKind(kind) })
	sc.Step(`^the call fails with an authentication error$`, func() error { return s.theCallFailsWithAnAuthenticationError() })
	sc.Step(`^the fetched memory's content is "([^"]*)"$`, func(c string) error { return s.theFetchedMemorysContentIs(c) })
	sc.Step(`^the search results include the stored memory$`, func() error { return s.theSearchResultsIncludeTheStoredMemory() })
	sc.Step(`^the related memories include "([^"]*)"$`, func(label string) error { return s.theRelatedMemoriesInclude(label) })
	sc.Step(`^the result ranked for "([^"]*)" is before the result ranked for "([^"]*)"$`, func(a, b string) error {
		return s.theResultRankedForIsBeforeTheResultRankedFor(a, b)
	})
}
