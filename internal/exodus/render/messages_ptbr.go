package render

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.MustParse("pt-BR")

	message.SetString(lang, AnnouncementKey, "O servidor %s precisa de jogadores! Mude agora e ajude-o a crescer.")
	message.SetString(lang, AnnouncementSwitchKey, "Troque agora e ganhe %s de crédito de jogo.")
	message.SetString(lang, ReminderKey, "A migração para %s continua. %d jogadores já entraram.")
	message.SetString(lang, SwitchConfirmationKey, "Bem-vindo ao %s! Sua recompensa de troca de %s foi creditada.")
	message.SetString(lang, SeederWelcomeKey, "Obrigado por manter o %s ativo! Fique por aqui para ganhar recompensas da campanha.")
	message.SetString(lang, PlaytimeRewardKey, "Você jogou %s no %s. Um crédito de jogo de %s é seu.")
	message.SetString(lang, CompletionRewardKey, "Campanha concluída! %s foi creditado por ir até o fim.")
	message.SetString(lang, ClosureKey, "A migração para %s foi concluída. Obrigado a todos que participaram!")
	message.SetString(lang, CancellationKey, "A campanha de migração para %s foi cancelada.")
	message.SetString(lang, DrillPrefixKey, "[SIMULAÇÃO] ")
}
