package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rakunlabs/anonymizer/internal/client"
	"github.com/rakunlabs/anonymizer/internal/execution"
	"github.com/rakunlabs/anonymizer/internal/model"
)

func init() {
	execution.Register("arxlet.FromPrivacyPolicy", newGeneratorFactory(arxletFromPrivacyPolicy{}))
	execution.Register("arxlet.FromPets", newRunnerFactory(arxletFromPets{}))
	execution.Register("arxlet.KAnonymity", newRunnerFactory(arxletKAnonymity{}))
	execution.Register("arxlet.DistinctLDiversity", newRunnerFactory(sensitivePet{scheme: model.SchemeDistinctLDiversity}))
	execution.Register("arxlet.EntropyLDiversity", newRunnerFactory(sensitivePet{scheme: model.SchemeEntropyLDiversity}))
	execution.Register("arxlet.RecursiveCLDiversity", newRunnerFactory(sensitivePet{scheme: model.SchemeRecursiveCLDiversity}))
	execution.Register("arxlet.HierarchicalTCloseness", newRunnerFactory(sensitivePet{scheme: model.SchemeHierarchicalTCloseness}))
	execution.Register("arxlet.OrderedTCloseness", newRunnerFactory(sensitivePet{scheme: model.SchemeOrderedTCloseness}))
	execution.Register("arxlet.KMap", newRunnerFactory(arxletKMap{}))
}

// objectTarget names an object template and its quasi-identifying or
// sensitive attribute types.
type objectTarget struct {
	Type   string   `json:"type"`
	Values []string `json:"values"`
}

func arxletURL(j *execution.Job, args map[string]any) string {
	if url := execution.ArgString(args, "arxlet_url"); url != "" {
		return url
	}
	return j.Env.Services.ARXlet.URL
}

// prepareAttributes transforms internal Attributes into ARXlet data by
// resolving the hierarchy ladder of each value.
func prepareAttributes(attributes []*model.Attribute, h model.HierarchyAttribute) []model.AttributeData {
	ret := make([]model.AttributeData, 0, len(attributes))
	for _, att := range attributes {
		ret = append(ret, model.AttributeData{
			Value:       att.Value,
			Hierarchies: model.HierarchyValues(att.Value, h),
		})
	}
	return ret
}

// prepareObjects transforms internal Objects into ARXlet object rows with
// parallel value and hierarchy columns, one column per valid attribute.
func prepareObjects(objects []*model.Object, h model.HierarchyObject, validAttributes ...string) ([]model.ARXletObject, error) {
	ret := make([]model.ARXletObject, 0, len(objects))
	for _, obj := range objects {
		var attributes []model.ARXletAttribute
		var hierarchies []model.ARXletHierarchy
		for _, attributeName := range validAttributes {
			var attH *model.HierarchyAttribute
			for i := range h.AttributeHierarchies {
				if h.AttributeHierarchies[i].AttributeName == attributeName {
					attH = &h.AttributeHierarchies[i]
					break
				}
			}
			if attH == nil {
				return nil, execution.Jobf("no hierarchy for attribute %q inside object %q", attributeName, obj.Name)
			}
			// An object holds at most one attribute per attribute type.
			extracted := execution.ExtractAttributes(obj.Value, attributeName)
			if len(extracted) == 0 {
				return nil, execution.Jobf("object %q has no attribute of type %q", obj.Name, attributeName)
			}
			data := prepareAttributes(extracted[:1], *attH)
			attributes = append(attributes, model.ARXletAttribute{Type: attributeName, Value: data[0].Value})
			hierarchies = append(hierarchies, model.ARXletHierarchy{Type: attributeName, Values: data[0].Hierarchies})
		}
		ret = append(ret, model.ARXletObject{Values: attributes, Hierarchies: hierarchies})
	}
	return ret, nil
}

// updateComponents writes anonymized values back into components, in
// order: an Attribute maps to a string, an Object to a nested value list
// filtered by typeFilter.
func updateComponents(data []model.Component, values []any, typeFilter ...string) error {
	for i, component := range data {
		if i >= len(values) {
			return execution.Jobf("anonymized value list shorter than component list")
		}
		switch c := component.(type) {
		case *model.Attribute:
			value, ok := values[i].(string)
			if !ok {
				return execution.Jobf("expected string value for attribute %q", c.Name)
			}
			c.Value = value
		case *model.Object:
			nested, ok := values[i].([]any)
			if !ok {
				return execution.Jobf("expected value list for object %q", c.Name)
			}
			filtered := c.TypesGet(typeFilter...)
			if err := updateComponents(filtered, nested, typeFilter...); err != nil {
				return err
			}
		default:
			return execution.Jobf("unknown component while updating: %v", component)
		}
	}
	return nil
}

// parsePets normalizes a heterogeneous PET list (instances, maps, JSON
// strings) into ARXlet descriptors, skipping unknown schemes.
func parsePets(j *execution.Job, raw []any) ([]model.ARXletPet, error) {
	var pets []model.ARXletPet
	for _, entry := range raw {
		switch v := entry.(type) {
		case model.ARXletPet:
			pets = append(pets, v)
		case map[string]any, string:
			pet, err := parsePetDict(v)
			if err != nil {
				var unknown model.ErrUnknownScheme
				if errors.As(err, &unknown) {
					slog.Info("unknown ARXlet PET scheme, skipping",
						"job", j.Name, "scheme", unknown.Scheme)
					continue
				}
				return nil, err
			}
			pets = append(pets, pet)
		default:
			return nil, execution.Jobf("pet is not string, dict or instance of Pet")
		}
	}
	return pets, nil
}

// parsePetDict builds an ARXlet PET from a generic scheme/metadata form.
func parsePetDict(raw any) (model.ARXletPet, error) {
	var generic struct {
		Scheme   string         `json:"scheme"`
		Metadata map[string]any `json:"metadata"`
	}
	parsed, err := execution.ParseArg[map[string]any](raw)
	if err != nil {
		return model.ARXletPet{}, err
	}
	if err := decodeStrict(parsed, &generic); err != nil {
		return model.ARXletPet{}, err
	}

	metadata := model.PetMetadata{
		K: execution.ArgInt(generic.Metadata, "k"),
		L: execution.ArgInt(generic.Metadata, "l"),
		C: execution.ArgFloat(generic.Metadata, "c"),
		T: execution.ArgFloat(generic.Metadata, "t"),
	}
	sensitive, _ := generic.Metadata["attribute"].(string)
	if s, ok := generic.Metadata["sensitive"].(string); ok {
		sensitive = s
	}
	var petContext [][]model.ARXletObject
	if rawContext, ok := generic.Metadata["context"]; ok {
		petContext, err = execution.ParseArg[[][]model.ARXletObject](rawContext)
		if err != nil {
			return model.ARXletPet{}, err
		}
	}
	return model.PetFromScheme(generic.Scheme, metadata, sensitive, petContext)
}

// parseObjectTargets normalizes the "objects" argument.
func parseObjectTargets(raw []any) ([]objectTarget, error) {
	targets := make([]objectTarget, 0, len(raw))
	for _, entry := range raw {
		if t, ok := entry.(objectTarget); ok {
			targets = append(targets, t)
			continue
		}
		t, err := execution.ParseArg[objectTarget](entry)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// ─── arxlet.FromPrivacyPolicy ───

// arxletFromPrivacyPolicy walks the privacy policy and emits one FromPets
// job covering all attribute-level PETs plus the PETs of the templates not
// marked k-map, and one KMap job per template marked k-map. A template
// marked k-map contributes nothing to the global PET batch: its
// attribute-level PETs are intentionally ignored.
type arxletFromPrivacyPolicy struct{}

func (arxletFromPrivacyPolicy) Generate(_ context.Context, j *execution.Job, args map[string]any) ([]*execution.Job, error) {
	if err := j.VerifyParameters(args, "privacy_policy_location", "hierarchy_policy_location"); err != nil {
		return nil, err
	}
	url := arxletURL(j, args)
	privacyPolicy, err := execution.EnvAs[*model.PrivacyPolicy](j.Env, execution.ArgString(args, "privacy_policy_location"))
	if err != nil {
		return nil, err
	}
	hierarchyPolicy, err := execution.EnvAs[*model.HierarchyPolicy](j.Env, execution.ArgString(args, "hierarchy_policy_location"))
	if err != nil {
		return nil, err
	}

	var allPets []model.ARXletPet
	var attributeList []string
	var objectList []objectTarget

	type kMapEntry struct {
		target    objectTarget
		k         int
		hierarchy model.HierarchyObject
	}
	var kMaps []kMapEntry

	for _, attPolicy := range privacyPolicy.Attributes {
		for _, pet := range attPolicy.Pets {
			parsed, err := model.PetFromScheme(pet.Scheme, pet.Metadata, attPolicy.Name, nil)
			if err != nil {
				var unknown model.ErrUnknownScheme
				if errors.As(err, &unknown) {
					slog.Info("unknown ARXlet PET scheme, skipping",
						"job", j.Name, "scheme", pet.Scheme)
					continue
				}
				return nil, execution.Jobf("parse pet for attribute %q: %v", attPolicy.Name, err)
			}
			allPets = append(allPets, parsed)
		}
		attributeList = append(attributeList, attPolicy.Name)
	}

	for _, template := range privacyPolicy.Templates {
		kAnonCount := 0
		sensitive := model.NewTypeSet()
		var pets []model.ARXletPet

		for _, attPolicy := range template.Attributes {
			for _, pet := range attPolicy.Pets {
				parsed, err := model.PetFromScheme(pet.Scheme, pet.Metadata, attPolicy.Name, nil)
				if err != nil {
					var unknown model.ErrUnknownScheme
					if errors.As(err, &unknown) {
						slog.Info("unknown ARXlet PET scheme, skipping",
							"job", j.Name, "scheme", pet.Scheme)
						continue
					}
					return nil, execution.Jobf("parse pet for attribute %q: %v", attPolicy.Name, err)
				}
				// k-anonymity applies to the whole template: when several
				// attributes request it, it is emitted once only.
				if parsed.Scheme == model.SchemeKAnonymity {
					kAnonCount++
					sensitive.Merge(attPolicy.Name)
					if kAnonCount > 1 {
						continue
					}
				}
				pets = append(pets, parsed)
			}
		}
		target := objectTarget{Type: template.Name, Values: sensitive.Sorted()}
		objectList = append(objectList, target)

		if template.KMap {
			var hierarchy *model.HierarchyObject
			for i := range hierarchyPolicy.HierarchyObjects {
				if hierarchyPolicy.HierarchyObjects[i].MispObjectTemplate == template.Name {
					hierarchy = &hierarchyPolicy.HierarchyObjects[i]
					break
				}
			}
			if hierarchy == nil {
				return nil, execution.Jobf("no hierarchy for object %q", template.Name)
			}
			kMaps = append(kMaps, kMapEntry{target: target, k: template.K, hierarchy: *hierarchy})
		} else {
			allPets = append(allPets, pets...)
		}
	}

	var ret []*execution.Job

	petsArg := make([]any, 0, len(allPets))
	for _, pet := range allPets {
		petsArg = append(petsArg, pet)
	}
	fromPetsArgs := map[string]any{
		"pets":                  petsArg,
		"attributes":            attributeList,
		"objects":               toAnyList(objectList),
		"attribute_hierarchies": toAnyListHA(hierarchyPolicy.HierarchyAttributes),
		"object_hierarchies":    toAnyListHO(hierarchyPolicy.HierarchyObjects),
		"arxlet_url":            url,
	}
	ret = append(ret, execution.NewChildJob("apply_pets", j, fromPetsArgs, arxletFromPets{}))

	for _, entry := range kMaps {
		kMapArgs := map[string]any{
			"k":                entry.k,
			"object":           entry.target,
			"object_hierarchy": entry.hierarchy,
			"arxlet_url":       url,
		}
		ret = append(ret, execution.NewChildJob("apply_k_map_"+entry.target.Type, j, kMapArgs, arxletKMap{}))
	}
	return ret, nil
}

func toAnyList(targets []objectTarget) []any {
	out := make([]any, 0, len(targets))
	for _, t := range targets {
		out = append(out, t)
	}
	return out
}

func toAnyListHA(hierarchies []model.HierarchyAttribute) []any {
	out := make([]any, 0, len(hierarchies))
	for _, h := range hierarchies {
		out = append(out, h)
	}
	return out
}

func toAnyListHO(hierarchies []model.HierarchyObject) []any {
	out := make([]any, 0, len(hierarchies))
	for _, h := range hierarchies {
		out = append(out, h)
	}
	return out
}

// ─── arxlet.FromPets ───

// arxletFromPets applies a PET batch: per attribute type it builds the
// hierarchy ladders, calls the /attributes endpoint and overwrites values
// in place; per object target it prunes to the sensitive attribute types,
// calls /objects and overwrites the inner attributes.
type arxletFromPets struct{}

func (arxletFromPets) Run(ctx context.Context, j *execution.Job, args map[string]any) (any, error) {
	return nil, runFromPets(ctx, j, args)
}

func runFromPets(ctx context.Context, j *execution.Job, args map[string]any) error {
	if err := j.VerifyParameters(args, "pets", "attributes", "objects", "attribute_hierarchies", "object_hierarchies"); err != nil {
		return err
	}
	if j.Env.Data == nil {
		return execution.Jobf("environment attribute not found: data")
	}
	data := j.Env.Data.TypesGet(model.TypeAnonymizableARXlet)
	url := arxletURL(j, args)

	pets, err := parsePets(j, execution.ArgList(args, "pets"))
	if err != nil {
		return err
	}
	slog.Debug("prepared PETs", "job", j.Name, "count", len(pets))
	if len(pets) == 0 {
		slog.Info("no PETs to apply", "job", j.Name)
		return nil
	}

	attributes := execution.ArgStringList(args, "attributes")
	objects, err := parseObjectTargets(execution.ArgList(args, "objects"))
	if err != nil {
		return err
	}
	attHierarchies := execution.ArgList(args, "attribute_hierarchies")
	objHierarchies := execution.ArgList(args, "object_hierarchies")

	arxlet := client.NewARXlet(url, connectionSettings(j))

	// Apply PETs to attributes.
	for _, attributeName := range attributes {
		var hierarchy *model.HierarchyAttribute
		for _, raw := range attHierarchies {
			parsed, err := execution.ParseArg[model.HierarchyAttribute](raw)
			if err != nil {
				return err
			}
			if parsed.AttributeName == attributeName {
				hierarchy = &parsed
			}
		}
		if hierarchy == nil {
			return execution.Jobf("no hierarchy for attribute %q", attributeName)
		}

		extracted := execution.ExtractAttributes(data, model.TypeAnonymizableARXlet, attributeName)
		prepared := prepareAttributes(extracted, *hierarchy)
		slog.Debug("prepared attributes",
			"job", j.Name, "count", len(prepared), "type", attributeName)
		if len(prepared) == 0 {
			continue
		}

		values, err := arxlet.AnonymizeAttributes(ctx, prepared, pets)
		if err != nil {
			return clientJobError(err)
		}
		asAny := make([]any, len(values))
		for i, v := range values {
			asAny[i] = v
		}
		components := make([]model.Component, len(extracted))
		for i, att := range extracted {
			components[i] = att
		}
		if err := updateComponents(components, asAny, model.TypeAnonymizableARXlet); err != nil {
			return err
		}
	}

	// Apply PETs to objects.
	for _, target := range objects {
		var hierarchy *model.HierarchyObject
		for _, raw := range objHierarchies {
			parsed, err := execution.ParseArg[model.HierarchyObject](raw)
			if err != nil {
				return err
			}
			if parsed.MispObjectTemplate == target.Type {
				hierarchy = &parsed
			}
		}
		if hierarchy == nil {
			return execution.Jobf("no hierarchy for object %q", target.Type)
		}

		extracted := execution.ExtractObjects(data, model.TypeAnonymizableARXlet, target.Type)

		// Prune to the sensitive attribute types only. The pruned objects
		// are fresh containers over the same inner Attributes, so updates
		// reach the original tree.
		pruned := make([]*model.Object, 0, len(extracted))
		for _, obj := range extracted {
			pruned = append(pruned, &model.Object{
				Name:  obj.Name,
				Type:  obj.Type,
				Value: obj.TypesSearch(target.Values...),
			})
		}

		prepared, err := prepareObjects(pruned, *hierarchy, target.Values...)
		if err != nil {
			return err
		}
		slog.Debug("prepared objects",
			"job", j.Name, "count", len(prepared), "type", target.Type)
		if len(prepared) == 0 {
			continue
		}

		rows, err := arxlet.AnonymizeObjects(ctx, prepared, pets)
		if err != nil {
			return clientJobError(err)
		}

		// Flatten the response rows into the nested value-list shape
		// updateComponents consumes.
		formatted := make([]any, 0, len(rows))
		for _, row := range rows {
			values := make([]any, 0, len(row))
			for _, att := range row {
				values = append(values, att.Value)
			}
			formatted = append(formatted, values)
		}
		components := make([]model.Component, len(pruned))
		for i, obj := range pruned {
			components[i] = obj
		}
		if err := updateComponents(components, formatted, model.TypeAnonymizableARXlet); err != nil {
			return err
		}
	}
	return nil
}

// clientJobError folds a client-family error into a job failure; other
// errors (cancellation) pass through.
func clientJobError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, client.ErrClient) {
		return execution.Jobf("client exception raised: %v", err)
	}
	return execution.Jobf("%v", err)
}

// withDefaultPets overlays args over a synthesized PET list; caller args
// win, including a caller-supplied "pets".
func withDefaultPets(args map[string]any, pets ...model.ARXletPet) map[string]any {
	merged := make(map[string]any, len(args)+1)
	petsArg := make([]any, 0, len(pets))
	for _, pet := range pets {
		petsArg = append(petsArg, pet)
	}
	merged["pets"] = petsArg
	for k, v := range args {
		merged[k] = v
	}
	return merged
}

// ─── Thin PET specializations ───

// arxletKAnonymity synthesizes a single k-anonymity PET and delegates to
// FromPets.
type arxletKAnonymity struct{}

func (arxletKAnonymity) Run(ctx context.Context, j *execution.Job, args map[string]any) (any, error) {
	if err := j.VerifyParameters(args, "k"); err != nil {
		return nil, err
	}
	pet := model.ARXletPet{
		Scheme:   model.SchemeKAnonymity,
		Metadata: model.ARXletMetadata{K: execution.ArgInt(args, "k")},
	}
	return nil, runFromPets(ctx, j, withDefaultPets(args, pet))
}

// sensitivePet covers the diversity/closeness family: one PET targeting a
// sensitive attribute, delegated to FromPets.
type sensitivePet struct {
	scheme string
}

func (s sensitivePet) Run(ctx context.Context, j *execution.Job, args map[string]any) (any, error) {
	if err := j.VerifyParameters(args, "sensitive"); err != nil {
		return nil, err
	}
	sensitive := execution.ArgString(args, "sensitive")

	var metadata model.ARXletMetadata
	switch s.scheme {
	case model.SchemeDistinctLDiversity, model.SchemeEntropyLDiversity:
		if err := j.VerifyParameters(args, "l"); err != nil {
			return nil, err
		}
		metadata = model.ARXletMetadata{Attribute: sensitive, L: execution.ArgInt(args, "l")}
	case model.SchemeRecursiveCLDiversity:
		if err := j.VerifyParameters(args, "l", "c"); err != nil {
			return nil, err
		}
		metadata = model.ARXletMetadata{Attribute: sensitive, L: execution.ArgInt(args, "l"), C: execution.ArgFloat(args, "c")}
	case model.SchemeHierarchicalTCloseness, model.SchemeOrderedTCloseness:
		if err := j.VerifyParameters(args, "t"); err != nil {
			return nil, err
		}
		metadata = model.ARXletMetadata{Attribute: sensitive, T: execution.ArgFloat(args, "t")}
	default:
		return nil, execution.Jobf("unknown sensitive PET scheme %q", s.scheme)
	}

	pet := model.ARXletPet{Scheme: s.scheme, Metadata: metadata}
	return nil, runFromPets(ctx, j, withDefaultPets(args, pet))
}

// ─── arxlet.KMap ───

// arxletKMap applies k-map to one object template, populating the PET
// context from previously seen Objects in the context store.
type arxletKMap struct{}

func (arxletKMap) Run(ctx context.Context, j *execution.Job, args map[string]any) (any, error) {
	if err := j.VerifyParameters(args, "k", "object", "object_hierarchy"); err != nil {
		return nil, err
	}
	k := execution.ArgInt(args, "k")
	target, err := execution.ParseArg[objectTarget](args["object"])
	if err != nil {
		return nil, err
	}
	hierarchy, err := execution.ParseArg[model.HierarchyObject](args["object_hierarchy"])
	if err != nil {
		return nil, err
	}
	url := arxletURL(j, args)

	store := j.Env.Services.Context
	if store == nil {
		return nil, execution.Jobf("no context store configured")
	}
	requests, err := store.Lookup(ctx, []string{target.Type}, true, nil, true)
	if err != nil {
		return nil, execution.Jobf("context lookup failed: %v", err)
	}

	var population [][]model.ARXletObject
	count := 0
	for _, req := range requests {
		objs := execution.ExtractObjects(req.Data, model.TypeAnonymizableARXlet, target.Type)
		rows, err := prepareObjects(objs, hierarchy, target.Values...)
		if err != nil {
			return nil, err
		}
		population = append(population, rows)
		count += len(rows)
	}
	slog.Debug("obtained objects from context database", "job", j.Name, "count", count)

	pet := model.ARXletPet{
		Scheme:   model.SchemeKMap,
		Metadata: model.ARXletMetadata{K: k, Context: population},
	}

	kwargs := map[string]any{
		"pets":                  []any{pet},
		"objects":               []any{target},
		"object_hierarchies":    []any{hierarchy},
		"attributes":            []string{},
		"attribute_hierarchies": []any{},
		"arxlet_url":            url,
	}
	return nil, runFromPets(ctx, j, kwargs)
}
