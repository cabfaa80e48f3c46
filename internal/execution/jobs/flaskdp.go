package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/rakunlabs/anonymizer/internal/client"
	"github.com/rakunlabs/anonymizer/internal/execution"
	"github.com/rakunlabs/anonymizer/internal/model"
)

func init() {
	execution.Register("flaskdp.FromPrivacyPolicy", newGeneratorFactory(flaskdpFromPrivacyPolicy{}))
	execution.Register("flaskdp.FromTechnique", newRunnerFactory(flaskdpFromTechnique{}))
	execution.Register("flaskdp.Laplace", newRunnerFactory(fixedMechanism{mechanism: model.MechanismLaplace}))
	execution.Register("flaskdp.LaplaceTruncated", newRunnerFactory(fixedMechanism{mechanism: model.MechanismLaplaceTruncated, bounded: true}))
	execution.Register("flaskdp.LaplaceBoundedDomain", newRunnerFactory(fixedMechanism{mechanism: model.MechanismLaplaceBoundedDomain, bounded: true}))
	execution.Register("flaskdp.LaplaceBoundedNoise", newRunnerFactory(fixedMechanism{mechanism: model.MechanismLaplaceBoundedNoise}))
	execution.Register("flaskdp.Gaussian", newRunnerFactory(fixedMechanism{mechanism: model.MechanismGaussian}))
	execution.Register("flaskdp.GaussianAnalytic", newRunnerFactory(fixedMechanism{mechanism: model.MechanismGaussianAnalytic}))
}

func flaskdpURL(j *execution.Job, args map[string]any) string {
	if url := execution.ArgString(args, "flaskdp_url"); url != "" {
		return url
	}
	return j.Env.Services.FlaskDP.URL
}

// prepareItem parses the numeric values of a group of attributes into one
// FlaskDP item. Unparsable values are logged and skipped.
func prepareItem(j *execution.Job, id string, attributes []*model.Attribute) (model.FlaskDPItem, []*model.Attribute) {
	item := model.FlaskDPItem{ID: id, Values: []float64{}, Mechanism: model.MechanismLaplace}
	kept := make([]*model.Attribute, 0, len(attributes))
	for _, att := range attributes {
		value, err := strconv.ParseFloat(att.Value, 64)
		if err != nil {
			slog.Error("unable to parse attribute value as float",
				"job", j.Name, "attribute", att.Name, "value", att.Value)
			continue
		}
		item.Values = append(item.Values, value)
		kept = append(kept, att)
	}
	return item, kept
}

// updateValues writes noised values back into attributes, in order.
func updateValues(j *execution.Job, attributes []*model.Attribute, values []float64) {
	for i, att := range attributes {
		if i >= len(values) {
			return
		}
		slog.Debug("updating attribute value",
			"job", j.Name, "old", att.Value, "new", values[i])
		att.Value = strconv.FormatFloat(values[i], 'f', -1, 64)
	}
}

// applyMechanism is the shared body of every DP job: select the target
// attributes (top-level or inside objects), build a FlaskDP request keyed
// by item id, call the service and write the noised values back.
func applyMechanism(ctx context.Context, j *execution.Job, mechanism model.Mechanism, args map[string]any) error {
	if j.Env.Data == nil {
		return execution.Jobf("environment attribute not found: data")
	}
	data := j.Env.Data.TypesGet(model.TypeAnonymizableFlaskDP)

	attributes := execution.ArgStringList(args, "attributes")
	epsilon := execution.ArgFloat(args, "epsilon")
	delta := execution.ArgFloatDefault(args, "delta", 0)
	sensitivity := execution.ArgFloat(args, "sensitivity")
	upper := execution.ArgFloatDefault(args, "upper", 1)
	lower := execution.ArgFloatDefault(args, "lower", 0)
	objects := execution.ArgStringList(args, "objects")
	url := flaskdpURL(j, args)

	request := model.FlaskDPRequest{Items: []model.FlaskDPItem{}}
	requestAttributes := make(map[string][]*model.Attribute)

	fill := func(item *model.FlaskDPItem) {
		item.Epsilon = epsilon
		item.Delta = delta
		item.Sensitivity = sensitivity
		item.Upper = upper
		item.Lower = lower
		item.Mechanism = mechanism
	}

	if len(objects) > 0 {
		// Attributes are looked up inside matching Objects. An empty
		// attribute list selects all of an object's attributes.
		count := 0
		for _, obj := range execution.ExtractObjects(data, append([]string{model.TypeAnonymizableFlaskDP}, objects...)...) {
			selected := execution.ExtractAttributes(obj.Value, append([]string{model.TypeAnonymizableFlaskDP}, attributes...)...)
			id := fmt.Sprintf("obj%s-%d", obj.Name, count)
			item, kept := prepareItem(j, id, selected)
			fill(&item)
			request.Items = append(request.Items, item)
			requestAttributes[id] = kept
			count++
		}
	} else {
		for _, attributeName := range attributes {
			selected := execution.ExtractAttributes(data, model.TypeAnonymizableFlaskDP, attributeName)
			item, kept := prepareItem(j, attributeName, selected)
			fill(&item)
			request.Items = append(request.Items, item)
			requestAttributes[attributeName] = kept
		}
	}

	flaskdp := client.NewFlaskDP(url, connectionSettings(j))
	response, err := flaskdp.ApplyDP(ctx, request)
	if err != nil {
		return clientJobError(err)
	}

	for _, item := range response.Items {
		updateValues(j, requestAttributes[item.ID], item.Values)
	}
	return nil
}

// ─── flaskdp.FromPrivacyPolicy ───

// flaskdpFromPrivacyPolicy walks the privacy policy and emits one
// FromTechnique job per DP-flagged attribute policy and per DP-flagged
// object template. Jobs cannot be grouped by technique: metadata differs
// per policy entry.
type flaskdpFromPrivacyPolicy struct{}

func (flaskdpFromPrivacyPolicy) Generate(_ context.Context, j *execution.Job, args map[string]any) ([]*execution.Job, error) {
	if err := j.VerifyParameters(args, "privacy_policy_location"); err != nil {
		return nil, err
	}
	url := flaskdpURL(j, args)
	privacyPolicy, err := execution.EnvAs[*model.PrivacyPolicy](j.Env, execution.ArgString(args, "privacy_policy_location"))
	if err != nil {
		return nil, err
	}

	var ret []*execution.Job

	for _, attributePolicy := range privacyPolicy.Attributes {
		if !attributePolicy.Dp {
			continue
		}
		if attributePolicy.DpPolicy == nil {
			return nil, execution.Jobf("missing DP policy for attribute %q", attributePolicy.Name)
		}
		childArgs := map[string]any{
			"attributes":  []string{attributePolicy.Name},
			"technique":   attributePolicy.DpPolicy.Scheme,
			"flaskdp_url": url,
			"epsilon":     attributePolicy.DpPolicy.Metadata.Epsilon,
			"delta":       attributePolicy.DpPolicy.Metadata.Delta,
			"sensitivity": attributePolicy.DpPolicy.Metadata.Sensitivity,
			"upper":       attributePolicy.DpPolicy.Metadata.Upper,
			"lower":       attributePolicy.DpPolicy.Metadata.Lower,
		}
		name := fmt.Sprintf("%d_attribute", len(ret))
		ret = append(ret, execution.NewChildJob(name, j, childArgs, flaskdpFromTechnique{}))
	}

	for _, template := range privacyPolicy.Templates {
		if !template.Dp {
			continue
		}
		if template.DpPolicy == nil {
			return nil, execution.Jobf("missing DP policy for object %q", template.Name)
		}
		attributes := template.DpPolicy.AttributeNames
		if template.DpPolicy.ApplyToAll {
			attributes = []string{}
		}
		childArgs := map[string]any{
			"attributes":  attributes,
			"technique":   template.DpPolicy.Scheme,
			"objects":     []string{template.Name},
			"flaskdp_url": url,
			"epsilon":     template.DpPolicy.Metadata.Epsilon,
			"delta":       template.DpPolicy.Metadata.Delta,
			"sensitivity": template.DpPolicy.Metadata.Sensitivity,
			"upper":       template.DpPolicy.Metadata.Upper,
			"lower":       template.DpPolicy.Metadata.Lower,
		}
		name := fmt.Sprintf("%d_object", len(ret))
		ret = append(ret, execution.NewChildJob(name, j, childArgs, flaskdpFromTechnique{}))
	}
	return ret, nil
}

// ─── flaskdp.FromTechnique ───

// flaskdpFromTechnique applies the DP technique named by its args.
type flaskdpFromTechnique struct{}

func (flaskdpFromTechnique) Run(ctx context.Context, j *execution.Job, args map[string]any) (any, error) {
	if err := j.VerifyParameters(args, "technique", "attributes", "epsilon", "delta", "sensitivity"); err != nil {
		return nil, err
	}
	mechanism := model.MechanismFromString(execution.ArgString(args, "technique"))
	return nil, applyMechanism(ctx, j, mechanism, args)
}

// fixedMechanism covers the mechanism-specific jobs; bounded mechanisms
// additionally require the upper/lower parameters.
type fixedMechanism struct {
	mechanism model.Mechanism
	bounded   bool
}

func (f fixedMechanism) Run(ctx context.Context, j *execution.Job, args map[string]any) (any, error) {
	params := []string{"attributes", "epsilon", "delta", "sensitivity"}
	if f.bounded {
		params = append(params, "upper", "lower")
	}
	if err := j.VerifyParameters(args, params...); err != nil {
		return nil, err
	}
	return nil, applyMechanism(ctx, j, f.mechanism, args)
}
