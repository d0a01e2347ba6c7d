package rbac

// RolePermissions is the default policy. Students act on their own attempts;
// ownership itself is checked by the exam service.
var RolePermissions = map[string][]string{
	"student": {
		"attempt:start",
		"attempt:save",
		"attempt:submit",
		"attempt:view-own",
		"attempt:review-own",
	},
	"teacher": {
		"exam:create",
		"exam:view",
	},
	"admin": {
		"*", // everything
	},
}
