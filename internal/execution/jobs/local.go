package jobs

import (
	"context"
	"log/slog"
	"slices"

	"github.com/rakunlabs/anonymizer/internal/crypto"
	"github.com/rakunlabs/anonymizer/internal/execution"
	"github.com/rakunlabs/anonymizer/internal/model"
)

func init() {
	execution.Register("local.ApplyAnonymizationLevel", newRunnerFactory(applyAnonymizationLevel{}))
	execution.Register("local.ApplyPGPEncryption", newRunnerFactory(applyPGPEncryption{}))
	execution.Register("local.FromPets", newGeneratorFactory(localFromPets{}))
	execution.Register("local.FromPrivacyPolicy", newGeneratorFactory(localFromPrivacyPolicy{}))
}

// localPetSchemes are the PET schemes the local backend understands.
var localPetSchemes = []string{"suppression", "generalization", "pgp"}

const defaultPGPKeyFile = "key.gpg"

// lookupAttributes selects the target attributes: top-level ones when no
// object types are given, otherwise the attributes inside matching
// top-level objects.
func lookupAttributes(data []model.Component, objects []string) []*model.Attribute {
	var lookup []*model.Attribute
	if len(objects) == 0 {
		for _, c := range data {
			if att, ok := c.(*model.Attribute); ok {
				lookup = append(lookup, att)
			}
		}
		return lookup
	}
	for _, c := range data {
		obj, ok := c.(*model.Object)
		if !ok || !obj.Type.Any(objects...) {
			continue
		}
		for _, inner := range obj.Value {
			if att, ok := inner.(*model.Attribute); ok {
				lookup = append(lookup, att)
			}
		}
	}
	return lookup
}

// matchAttributeType returns the first listed type an attribute carries,
// or "" when none match.
func matchAttributeType(att *model.Attribute, attributes []string) string {
	for _, name := range attributes {
		if att.Type.Is(name) {
			return name
		}
	}
	return ""
}

// ─── local.ApplyAnonymizationLevel ───

// applyAnonymizationLevel replaces each target attribute's value with the
// entry at the requested level of its hierarchy ladder. A ladder shallower
// than the level fails the job.
type applyAnonymizationLevel struct{}

func (applyAnonymizationLevel) Run(_ context.Context, j *execution.Job, args map[string]any) (any, error) {
	if err := j.VerifyParameters(args, "level", "attributes", "objects", "attribute_hierarchies"); err != nil {
		return nil, err
	}
	if j.Env.Data == nil {
		return nil, execution.Jobf("environment attribute not found: data")
	}
	data := j.Env.Data.TypesGet(model.TypeAnonymizableLocal)
	level := execution.ArgInt(args, "level")
	attributes := execution.ArgStringList(args, "attributes")
	objects := execution.ArgStringList(args, "objects")

	slog.Debug("applying suppression", "job", j.Name, "attributes", attributes)
	slog.Debug("objects to look inside of", "job", j.Name, "objects", objects)

	lookup := lookupAttributes(data, objects)
	slog.Debug("lookup list generated", "job", j.Name, "length", len(lookup))

	hierarchyMap := make(map[string]model.HierarchyAttribute)
	for _, raw := range execution.ArgList(args, "attribute_hierarchies") {
		parsed, err := execution.ParseArg[model.HierarchyAttribute](raw)
		if err != nil {
			return nil, err
		}
		hierarchyMap[parsed.AttributeName] = parsed
	}

	for _, attribute := range lookup {
		name := matchAttributeType(attribute, attributes)
		if name == "" {
			continue
		}
		hierarchy, ok := hierarchyMap[name]
		if !ok {
			return nil, execution.Jobf("no hierarchy for attribute %q", name)
		}
		values := model.HierarchyValues(attribute.Value, hierarchy)
		if len(values) <= level {
			slog.Debug("not enough generalization levels",
				"job", j.Name, "expected", level+1, "found", len(values))
			return nil, execution.Jobf("not enough generalization levels for attribute %s", attribute.Name)
		}
		attribute.Value = values[level]
	}
	return nil, nil
}

// ─── local.ApplyPGPEncryption ───

// applyPGPEncryption replaces each target attribute's value with its
// ASCII-armored PGP ciphertext. The key is read by filename from the
// process's key resource directory.
type applyPGPEncryption struct{}

func (applyPGPEncryption) Run(_ context.Context, j *execution.Job, args map[string]any) (any, error) {
	if err := j.VerifyParameters(args, "key", "attributes", "objects"); err != nil {
		return nil, err
	}
	if j.Env.Data == nil {
		return nil, execution.Jobf("environment attribute not found: data")
	}
	data := j.Env.Data.TypesGet(model.TypeAnonymizableLocal)
	keyName := execution.ArgString(args, "key")
	attributes := execution.ArgStringList(args, "attributes")
	objects := execution.ArgStringList(args, "objects")

	slog.Debug("applying PGP encryption",
		"job", j.Name, "attributes", attributes, "key", keyName)

	lookup := lookupAttributes(data, objects)
	slog.Debug("lookup list generated", "job", j.Name, "length", len(lookup))

	key, err := crypto.ReadKeyFromDir(j.Env.Services.PGPKeyDir, keyName)
	if err != nil {
		return nil, execution.Jobf("unable to read PGP key %q: %v", keyName, err)
	}

	for _, attribute := range lookup {
		if matchAttributeType(attribute, attributes) == "" {
			continue
		}
		encrypted, err := crypto.Encrypt(attribute.Value, key)
		if err != nil {
			return nil, execution.Jobf("unable to encrypt attribute %q: %v", attribute.Name, err)
		}
		attribute.Value = encrypted
	}
	return nil, nil
}

// ─── local.FromPets ───

// localFromPets maps each understood PET scheme to one of the two local
// jobs: suppression/generalization to ApplyAnonymizationLevel, pgp to
// ApplyPGPEncryption. Unknown schemes are skipped.
type localFromPets struct{}

func (localFromPets) Generate(_ context.Context, j *execution.Job, args map[string]any) ([]*execution.Job, error) {
	if err := j.VerifyParameters(args, "pets", "attributes", "objects", "attribute_hierarchies"); err != nil {
		return nil, err
	}
	attributes := execution.ArgStringList(args, "attributes")
	objects := execution.ArgStringList(args, "objects")
	attHierarchies := execution.ArgList(args, "attribute_hierarchies")

	var pets []model.Pet
	for _, raw := range execution.ArgList(args, "pets") {
		pet, err := execution.ParseArg[model.Pet](raw)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(localPetSchemes, pet.Scheme) {
			slog.Info("unknown local PET scheme, skipping", "job", j.Name, "scheme", pet.Scheme)
			continue
		}
		pets = append(pets, pet)
	}
	slog.Debug("prepared PETs", "job", j.Name, "count", len(pets))

	var ret []*execution.Job
	for _, pet := range pets {
		switch pet.Scheme {
		case "suppression", "generalization":
			childArgs := map[string]any{
				"level":                 pet.Metadata.Level,
				"attributes":            attributes,
				"objects":               objects,
				"attribute_hierarchies": attHierarchies,
			}
			ret = append(ret, execution.NewChildJob("apply-suppression", j, childArgs, applyAnonymizationLevel{}))
		case "pgp":
			childArgs := map[string]any{
				"key":        defaultPGPKeyFile,
				"attributes": attributes,
				"objects":    objects,
			}
			ret = append(ret, execution.NewChildJob("apply-pgp", j, childArgs, applyPGPEncryption{}))
		default:
			return nil, execution.Jobf("unknown local PET scheme %s", pet.Scheme)
		}
	}
	return ret, nil
}

// ─── local.FromPrivacyPolicy ───

// localFromPrivacyPolicy walks the privacy policy and emits a single local
// FromPets carrying only the PET schemes the local backend understands.
type localFromPrivacyPolicy struct{}

func (localFromPrivacyPolicy) Generate(_ context.Context, j *execution.Job, args map[string]any) ([]*execution.Job, error) {
	if err := j.VerifyParameters(args, "privacy_policy_location", "hierarchy_policy_location"); err != nil {
		return nil, err
	}
	privacyPolicy, err := execution.EnvAs[*model.PrivacyPolicy](j.Env, execution.ArgString(args, "privacy_policy_location"))
	if err != nil {
		return nil, err
	}
	hierarchyPolicy, err := execution.EnvAs[*model.HierarchyPolicy](j.Env, execution.ArgString(args, "hierarchy_policy_location"))
	if err != nil {
		return nil, err
	}

	var pets []model.Pet
	var attributeList []string
	var objectList []string
	hierarchyList := slices.Clone(hierarchyPolicy.HierarchyAttributes)

	for _, attPolicy := range privacyPolicy.Attributes {
		used := false
		for _, pet := range attPolicy.Pets {
			if slices.Contains(localPetSchemes, pet.Scheme) {
				used = true
				pets = append(pets, pet)
			}
		}
		if used {
			attributeList = append(attributeList, attPolicy.Name)
		}
	}

	for _, template := range privacyPolicy.Templates {
		used := false
		for _, attPolicy := range template.Attributes {
			attUsed := false
			for _, pet := range attPolicy.Pets {
				if slices.Contains(localPetSchemes, pet.Scheme) {
					used = true
					attUsed = true
					pets = append(pets, pet)
				}
			}
			if attUsed {
				attributeList = append(attributeList, attPolicy.Name)
			}
		}
		if used {
			objectList = append(objectList, template.Name)
			for _, hierarchyObject := range hierarchyPolicy.HierarchyObjects {
				if hierarchyObject.MispObjectTemplate == template.Name {
					hierarchyList = append(hierarchyList, hierarchyObject.AttributeHierarchies...)
				}
			}
		}
	}

	if len(pets) == 0 {
		return nil, nil
	}

	petsArg := make([]any, 0, len(pets))
	for _, pet := range pets {
		petsArg = append(petsArg, pet)
	}
	hierarchiesArg := make([]any, 0, len(hierarchyList))
	for _, h := range hierarchyList {
		hierarchiesArg = append(hierarchiesArg, h)
	}
	childArgs := map[string]any{
		"pets":                  petsArg,
		"attributes":            attributeList,
		"objects":               objectList,
		"attribute_hierarchies": hierarchiesArg,
		"object_hierarchies":    toAnyListHO(hierarchyPolicy.HierarchyObjects),
	}
	return []*execution.Job{execution.NewChildJob("from-pets", j, childArgs, localFromPets{})}, nil
}
