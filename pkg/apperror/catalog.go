package apperror

// meta is the static presentation and retry metadata attached to a code.
type meta struct {
	userMessage string
	canRetry    bool
	action      string
}

// catalog maps every classification key to its metadata. User messages are
// in French to match the console UI locale. Unknown keys fall back to the
// CodeUnknown entry.
var catalog = map[Code]meta{
	CodeInvalidRequest: {
		userMessage: "La requête est invalide.",
		action:      "Vérifiez les paramètres et réessayez.",
	},
	CodeInvalidCredentials: {
		userMessage: "Identifiants invalides.",
		action:      "Vérifiez vos identifiants.",
	},
	CodeTokenExpired: {
		userMessage: "Votre session a expiré.",
		action:      "Reconnectez-vous.",
	},
	CodeAccessDenied: {
		userMessage: "Accès refusé.",
		action:      "Vérifiez vos permissions sur cette ressource.",
	},
	CodeBucketNotFound: {
		userMessage: "Le bucket demandé n'existe pas.",
	},
	CodeObjectNotFound: {
		userMessage: "L'objet demandé n'existe pas.",
	},
	CodeNotFound: {
		userMessage: "La ressource demandée n'existe pas.",
	},
	CodeTimeout: {
		userMessage: "L'opération a expiré.",
		canRetry:    true,
		action:      "Réessayez dans quelques instants.",
	},
	CodeAlreadyExists: {
		userMessage: "Cette ressource existe déjà.",
		action:      "Choisissez un autre nom.",
	},
	CodeBucketNotEmpty: {
		userMessage: "Le bucket n'est pas vide.",
		action:      "Supprimez d'abord son contenu.",
	},
	CodePreconditionFailed: {
		userMessage: "La ressource a été modifiée entre-temps.",
		action:      "Rechargez puis réessayez.",
	},
	CodeRateLimit: {
		userMessage: "Trop de requêtes, ralentissement en cours.",
		canRetry:    true,
		action:      "Les requêtes reprendront automatiquement.",
	},
	CodeServerError: {
		userMessage: "Erreur interne du fournisseur.",
		canRetry:    true,
		action:      "Réessayez dans quelques instants.",
	},
	CodeServiceUnavailable: {
		userMessage: "Service temporairement indisponible.",
		canRetry:    true,
		action:      "Réessayez dans quelques instants.",
	},
	CodeNetworkError: {
		userMessage: "Erreur réseau.",
		canRetry:    true,
		action:      "Vérifiez votre connexion.",
	},
	CodeValidationError: {
		userMessage: "Les données fournies sont invalides.",
	},
	CodeOperationCancelled: {
		userMessage: "Opération annulée par l'utilisateur.",
	},
	CodeUnknown: {
		userMessage: "Une erreur inattendue s'est produite.",
		action:      "Réessayez ou contactez le support.",
	},
}

// upstreamCodes maps provider protocol error codes (passed through the proxy
// response body or surfaced by the SDK) to internal codes.
var upstreamCodes = map[string]Code{
	"NoSuchKey":               CodeObjectNotFound,
	"NotFound":                CodeNotFound,
	"NoSuchBucket":            CodeBucketNotFound,
	"BucketNotEmpty":          CodeBucketNotEmpty,
	"BucketAlreadyExists":     CodeAlreadyExists,
	"BucketAlreadyOwnedByYou": CodeAlreadyExists,
	"AccessDenied":            CodeAccessDenied,
	"Forbidden":               CodeAccessDenied,
	"InvalidAccessKeyId":      CodeInvalidCredentials,
	"SignatureDoesNotMatch":   CodeInvalidCredentials,
	"ExpiredToken":            CodeTokenExpired,
	"TokenRefreshRequired":    CodeTokenExpired,
	"SlowDown":                CodeRateLimit,
	"Throttling":              CodeRateLimit,
	"RequestLimitExceeded":    CodeRateLimit,
	"TooManyRequests":         CodeRateLimit,
	"RequestTimeout":          CodeTimeout,
	"ServiceUnavailable":      CodeServiceUnavailable,
	"InternalError":           CodeServerError,
	"PreconditionFailed":      CodePreconditionFailed,
	"InvalidArgument":         CodeInvalidRequest,
	"MalformedXML":            CodeValidationError,
	"InvalidBucketName":       CodeValidationError,
}

// retryDenyList lists codes that are never retried regardless of the
// CanRetry flag on the classified error. Auth and permission failures repeat
// identically until the operator intervenes.
var retryDenyList = map[Code]struct{}{
	CodeInvalidCredentials: {},
	CodeTokenExpired:       {},
	CodeAccessDenied:       {},
}

// lookup resolves a code to its catalog metadata, falling back to the
// generic unknown entry.
func lookup(code Code) meta {
	if m, ok := catalog[code]; ok {
		return m
	}
	return catalog[CodeUnknown]
}

// ShouldRetry reports whether err may be retried: the classified error must
// be retry-eligible and its code must not be on the deny-list.
func ShouldRetry(err error) bool {
	appErr := Classify(err)
	if _, denied := retryDenyList[appErr.Code]; denied {
		return false
	}
	return appErr.CanRetry
}
